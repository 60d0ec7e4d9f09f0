package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/spec-kit/queue-service/internal/auth"
	"github.com/spec-kit/queue-service/internal/domain"
)

// TokenResult is the json output of the token command.
type TokenResult struct {
	Token     string    `json:"token"`
	Subject   string    `json:"subject"`
	SubjectID string    `json:"subject_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// NewTokenCommand creates the token command.
func NewTokenCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		subject    string
		subjectID  string
		department string
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a development bearer token",
		Long: `Issue a bearer token signed with AUTH_JWT_SECRET.

Production tokens come from the identity provider; this command exists for
local testing of student and staff flows.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			subjectType := domain.SubjectType(strings.ToUpper(strings.TrimSpace(subject)))
			switch subjectType {
			case domain.SubjectTypeStudent:
				if department != "" {
					return fmt.Errorf("--department only applies to staff tokens")
				}
			case domain.SubjectTypeStaff:
			default:
				return fmt.Errorf("invalid subject %q: must be student or staff", subject)
			}
			if strings.TrimSpace(subjectID) == "" {
				return fmt.Errorf("--id is required")
			}

			cfg, err := rootOpts.config()
			if err != nil {
				return err
			}
			tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTLMinutes)
			token, expiresAt, err := tokens.GenerateToken(subjectID, subjectType, strings.ToUpper(department))
			if err != nil {
				return err
			}
			return rootOpts.emit(cmd.OutOrStdout(), TokenResult{
				Token:     token,
				Subject:   string(subjectType),
				SubjectID: subjectID,
				ExpiresAt: expiresAt,
			}, token)
		},
	}

	cmd.Flags().StringVar(&subject, "subject", "student", "token subject (student|staff)")
	cmd.Flags().StringVar(&subjectID, "id", "", "subject id carried by the token")
	cmd.Flags().StringVar(&department, "department", "", "department code a staff token is scoped to")
	return cmd
}
