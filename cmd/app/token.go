package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/BuzzLyutic/collab-tracker/internal/auth"
	"github.com/BuzzLyutic/collab-tracker/internal/config"
	"github.com/BuzzLyutic/collab-tracker/internal/model"
)

var (
	tokenUser int64
	tokenRole string
	tokenTTL  time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a bearer token for local testing",
	Long: `Issue an HS256 bearer token signed with JWT_SECRET.

Examples:
  app token --user 1
  app token --user 9 --role admin --ttl 1h`,
	RunE: runToken,
}

func init() {
	tokenCmd.Flags().Int64Var(&tokenUser, "user", 0, "user id (required)")
	tokenCmd.Flags().StringVar(&tokenRole, "role", string(model.RoleUser), "role: user, supervisor or admin")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "token lifetime")
	_ = tokenCmd.MarkFlagRequired("user")
}

func runToken(cmd *cobra.Command, args []string) error {
	if tokenUser <= 0 {
		return errors.New("--user must be positive")
	}
	role := model.Role(tokenRole)
	switch role {
	case model.RoleUser, model.RoleSupervisor, model.RoleAdmin:
	default:
		return fmt.Errorf("unknown role %q", tokenRole)
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	tok, err := auth.Issue([]byte(cfg.JWTSecret), tokenUser, role, tokenTTL)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), tok)
	return nil
}
