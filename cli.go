package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/mediconnect/backend/auth"
	"github.com/mediconnect/backend/config"
	"github.com/mediconnect/backend/models"
	"github.com/mediconnect/backend/services"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const commandTimeout = 2 * time.Minute

// runner is what every command needs before doing its work.
type runner struct {
	cfg      *config.Config
	logger   *zap.Logger
	backends *Backends
}

func setup(ctx context.Context, inMemory bool) (*runner, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, errors.Wrap(err, "failed to load config")
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "failed to initialize logger")
	}
	if inMemory {
		logger.Warn("running with in-memory storage, data is lost on exit")
		return &runner{cfg: cfg, logger: logger, backends: InMemoryBackends()}, nil
	}
	b, err := ConnectBackends(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return &runner{cfg: cfg, logger: logger, backends: b}, nil
}

func (r *runner) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	r.backends.Close(ctx, r.logger)
	_ = r.logger.Sync()
}

func (r *runner) tokens() (*auth.TokenManager, error) {
	return auth.NewTokenManager(auth.TokenConfig{
		Secret: r.cfg.JWTSecret,
		Issuer: r.cfg.JWTIssuer,
		Expiry: r.cfg.JWTExpiry,
	}, r.backends.Revocations, r.logger)
}

func serveCmd() *cobra.Command {
	var inMemory, seed bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			rt, err := setup(ctx, inMemory)
			if err != nil {
				return err
			}
			if !inMemory {
				if err := rt.backends.Migrate(ctx); err != nil {
					rt.close()
					return err
				}
			}
			if seed {
				users, _, _ := rt.backends.Services(rt.logger)
				if err := seedUsers(ctx, users, rt.logger); err != nil {
					rt.close()
					return err
				}
			}

			app, err := NewApp(rt.cfg, rt.backends, rt.logger)
			if err != nil {
				rt.close()
				return err
			}
			defer rt.logger.Sync()
			return app.Start()
		},
	}
	cmd.Flags().BoolVar(&inMemory, "in-memory", false, "Keep all data in process memory")
	cmd.Flags().BoolVar(&seed, "seed", false, "Create the sample users before serving")
	return cmd
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create indexes, the audit table and the picture bucket",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
			defer cancel()
			rt, err := setup(ctx, false)
			if err != nil {
				return err
			}
			defer rt.close()
			if err := rt.backends.Migrate(ctx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}
}

// sampleUsers are the demo accounts created by seed.
func sampleUsers() []services.CreateUserInput {
	return []services.CreateUserInput{
		{
			Name:           "Doctor Demo",
			Email:          "doctor@gmail.com",
			Role:           models.RoleDoctor,
			Specialization: "General Medicine",
			DateOfBirth:    "1980-01-01",
			Gender:         "male",
		},
		{
			Name:        "Patient Demo",
			Email:       "patient@gmail.com",
			Role:        models.RolePatient,
			DateOfBirth: "1990-01-01",
			Gender:      "female",
			Height:      170,
			Weight:      70,
		},
		{
			Name:        "Admin User",
			Email:       "admin@mediconnect.com",
			Role:        models.RoleAdmin,
			DateOfBirth: "1975-01-01",
			Gender:      "male",
		},
	}
}

// seedUsers creates the sample users, leaving existing accounts alone.
func seedUsers(ctx context.Context, users *services.UserService, logger *zap.Logger) error {
	for _, in := range sampleUsers() {
		u, err := users.Register(ctx, in)
		if err != nil {
			var se *services.Error
			if errors.As(err, &se) && se.Code == "EMAIL_EXISTS" {
				logger.Info("sample user already exists", zap.String("email", in.Email))
				continue
			}
			return errors.Wrapf(err, "failed to seed %s", in.Email)
		}
		logger.Info("seeded user",
			zap.String("id", u.ID.Hex()),
			zap.String("email", u.Email),
			zap.String("role", string(u.Role)))
	}
	return nil
}

func seedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Create the sample doctor, patient and admin accounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
			defer cancel()
			rt, err := setup(ctx, false)
			if err != nil {
				return err
			}
			defer rt.close()
			users, _, _ := rt.backends.Services(rt.logger)
			return seedUsers(ctx, users, rt.logger)
		},
	}
}

func createUserCmd() *cobra.Command {
	var in services.CreateUserInput
	var role string
	cmd := &cobra.Command{
		Use:   "create-user",
		Short: "Create a user and its profile",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
			defer cancel()
			rt, err := setup(ctx, false)
			if err != nil {
				return err
			}
			defer rt.close()

			in.Role = models.Role(strings.ToLower(role))
			users, _, _ := rt.backends.Services(rt.logger)
			u, err := users.Register(ctx, in)
			if err != nil {
				return describe(err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created %s %s (%s)\n", u.Role, u.Email, u.ID.Hex())
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&in.Name, "name", "", "Full name")
	f.StringVar(&in.Email, "email", "", "Email address")
	f.StringVar(&role, "role", "patient", "Role: patient, doctor or admin")
	f.StringVar(&in.Phone, "phone", "", "Phone number")
	f.StringVar(&in.DateOfBirth, "dob", "", "Date of birth (YYYY-MM-DD)")
	f.StringVar(&in.Gender, "gender", "", "Gender: male, female, other or prefer-not-to-say")
	f.StringVar(&in.Specialization, "specialization", "", "Doctor specialization")
	f.Float64Var(&in.Height, "height", 0, "Patient height in cm")
	f.Float64Var(&in.Weight, "weight", 0, "Patient weight in kg")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func listUsersCmd() *cobra.Command {
	var role string
	cmd := &cobra.Command{
		Use:   "list-users",
		Short: "Print every user, optionally filtered by role",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
			defer cancel()
			rt, err := setup(ctx, false)
			if err != nil {
				return err
			}
			defer rt.close()

			r := models.Role(strings.ToLower(role))
			if r != "" && !r.Valid() {
				return fmt.Errorf("invalid role %q", role)
			}
			list, err := rt.backends.Users.Find(ctx, models.UserFilter{Role: r})
			if err != nil {
				return errors.Wrap(err, "failed to list users")
			}
			return printUsers(cmd.OutOrStdout(), list)
		},
	}
	cmd.Flags().StringVar(&role, "role", "", "Only list users with this role")
	return cmd
}

func printUsers(w io.Writer, users []*models.User) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tEMAIL\tROLE\tDETAIL")
	for _, u := range users {
		detail := ""
		switch a := u.Attributes().(type) {
		case models.DoctorAttributes:
			detail = fmt.Sprintf("%s, %d patients", a.Specialization, a.PatientsCount)
		case models.PatientAttributes:
			detail = fmt.Sprintf("%.0fcm, %.0fkg", a.Height, a.Weight)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", u.ID.Hex(), u.Name, u.Email, u.Role, detail)
	}
	fmt.Fprintf(tw, "\n%d users\n", len(users))
	return tw.Flush()
}

func issueTokenCmd() *cobra.Command {
	var email string
	cmd := &cobra.Command{
		Use:   "issue-token",
		Short: "Sign an access token for an existing user",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
			defer cancel()
			rt, err := setup(ctx, false)
			if err != nil {
				return err
			}
			defer rt.close()

			u, err := rt.backends.Users.FindByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
			if err != nil {
				return errors.Wrapf(err, "failed to find user %s", email)
			}
			tokens, err := rt.tokens()
			if err != nil {
				return err
			}
			token, claims, err := tokens.Issue(auth.Identity{ID: u.ID.Hex(), Role: u.Role, Email: u.Email})
			if err != nil {
				return err
			}
			rt.logger.Info("issued token",
				zap.String("user_id", u.ID.Hex()),
				zap.String("jti", claims.ID),
				zap.Time("expires_at", claims.ExpiresAt.Time))
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "Email of the user")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

// describe flattens a domain error, including field details, for the
// terminal.
func describe(err error) error {
	var se *services.Error
	if !errors.As(err, &se) {
		return err
	}
	if details, ok := se.Details.([]map[string]string); ok {
		parts := make([]string, 0, len(details))
		for _, d := range details {
			parts = append(parts, d["field"]+": "+d["message"])
		}
		return fmt.Errorf("%s: %s", se.Code, strings.Join(parts, "; "))
	}
	return fmt.Errorf("%s: %s", se.Code, se.Message)
}
