package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fortec/gateway/internal/auth"
	"github.com/fortec/gateway/internal/identity"
	"github.com/fortec/gateway/internal/model"
	"github.com/fortec/gateway/internal/repository"
)

type output struct {
	AccountID string       `json:"account_id"`
	Name      string       `json:"name"`
	Email     string       `json:"email"`
	Tier      model.Tier   `json:"tier"`
	Limits    model.Limits `json:"limits"`
	Key       string       `json:"key"`
}

func main() {
	var (
		databaseURL = flag.String("database-url", os.Getenv("DATABASE_URL"), "PostgreSQL connection string")
		email       = flag.String("email", "ops@fortec.local", "Account email")
		name        = flag.String("name", "bootstrap", "Account name")
		tier        = flag.String("tier", string(model.TierPremium), "Account tier (free, basic, premium)")
		env         = flag.String("env", auth.EnvLive, "Key environment (live or test)")
		migrate     = flag.Bool("migrate", true, "Apply pending migrations first")
		format      = flag.String("format", "plain", "Output format: plain or json")
	)
	flag.Parse()

	if *databaseURL == "" {
		fmt.Fprintln(os.Stderr, "DATABASE_URL is required")
		os.Exit(1)
	}
	if !model.Tier(*tier).Valid() {
		fmt.Fprintf(os.Stderr, "invalid tier %q\n", *tier)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	repo, err := repository.New(ctx, *databaseURL)
	if err != nil {
		fmt.Fprintln(os.Stderr, "connect database:", err)
		os.Exit(1)
	}
	defer repo.Close()

	if *migrate {
		if _, err := repo.Migrate(ctx); err != nil {
			fmt.Fprintln(os.Stderr, "migrate:", err)
			os.Exit(1)
		}
	}

	svc := identity.NewService(identity.Config{
		Store:     repo,
		Generator: auth.NewKeyGenerator(*env, nil),
	})

	acc, key, err := svc.Register(ctx, identity.RegisterInput{
		Name:  *name,
		Email: *email,
		Tier:  model.Tier(*tier),
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "register account:", err)
		os.Exit(1)
	}

	out := output{
		AccountID: acc.ID,
		Name:      acc.Name,
		Email:     acc.Email,
		Tier:      acc.Tier,
		Limits:    acc.Limits,
		Key:       key,
	}

	switch strings.ToLower(*format) {
	case "plain":
		fmt.Println(out.Key)
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(out)
	default:
		fmt.Fprintln(os.Stderr, "invalid format; use plain or json")
		os.Exit(1)
	}
}
