package main

import (
	"flag"
	"fmt"
	"log"
	"time"

	"infinite-experiment/tourdesk/internal/auth"
	"infinite-experiment/tourdesk/internal/config"
	"infinite-experiment/tourdesk/internal/constants"
)

// Prints a bearer token signed with AUTH_JWT_SECRET for local testing
func main() {
	subject := flag.String("sub", "dev-user", "token subject")
	role := flag.String("role", string(constants.RoleAdmin), "provider, manager or admin")
	providerID := flag.String("provider", "", "provider id for provider tokens")
	ttl := flag.Duration("ttl", 24*time.Hour, "token lifetime")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if cfg.JWTSecret == "" {
		log.Fatal("AUTH_JWT_SECRET is not set")
	}
	if constants.Role(*role).Rank() == 0 {
		log.Fatalf("unknown role %q", *role)
	}

	token, err := auth.IssueToken([]byte(cfg.JWTSecret), *subject, constants.Role(*role), *providerID, *ttl)
	if err != nil {
		log.Fatalf("issue token: %v", err)
	}

	fmt.Println(token)
}
