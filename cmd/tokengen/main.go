// Package main provides a CLI tool for minting principal tokens for the
// credanchor API. It reads the same JWT_* environment as the server, so a
// token minted here is accepted by a server started from the same shell.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	jwttoken "credanchor/internal/jwt_token"
	"credanchor/internal/platform/config"
)

type tokenOutput struct {
	Token     string            `json:"token"`
	Type      string            `json:"type"`
	ExpiresIn string            `json:"expires_in,omitempty"`
	Claims    map[string]any    `json:"claims,omitempty"`
	Usage     map[string]string `json:"usage"`
}

func main() {
	principalCmd := flag.NewFlagSet("principal", flag.ExitOnError)
	principalRef := principalCmd.String("ref", "", "Issuer or delegate reference the token acts for (required)")
	principalTTL := principalCmd.Duration("ttl", 0, "Token time-to-live (defaults to TOKEN_TTL)")
	principalJSON := principalCmd.Bool("json", false, "Output as JSON")

	adminCmd := flag.NewFlagSet("admin", flag.ExitOnError)
	adminJSON := adminCmd.Bool("json", false, "Output as JSON")

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	switch os.Args[1] {
	case "principal":
		_ = principalCmd.Parse(os.Args[2:])
		generatePrincipalToken(cfg.Server, *principalRef, *principalTTL, *principalJSON)
	case "admin":
		_ = adminCmd.Parse(os.Args[2:])
		showAdminToken(cfg.Server.AdminToken, *adminJSON)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`tokengen - Mint principal tokens for the credanchor API

Tokens are signed with JWT_SIGNING_KEY (or the development key when unset).

Usage:
  tokengen <command> [flags]

Commands:
  principal   Mint a bearer token acting for an issuer or delegate
  admin       Show the admin API token from ADMIN_API_TOKEN

Examples:
  # Token for the issuer registered as "issuer-acme"
  tokengen principal -ref issuer-acme

  # Short-lived token as JSON
  tokengen principal -ref registrar-acme -ttl 5m -json

Use "tokengen <command> -h" for more information about a command.`)
}

func generatePrincipalToken(server config.Server, ref string, ttl time.Duration, jsonOutput bool) {
	if ref == "" {
		fmt.Fprintln(os.Stderr, "Error: -ref is required")
		os.Exit(1)
	}
	if ttl <= 0 {
		ttl = server.TokenTTL
	}

	svc := jwttoken.NewJWTService(server.JWTSigningKey, server.JWTIssuer, server.JWTAudience, ttl)
	svc.SetEnv(server.Environment)
	token, err := svc.GenerateToken(context.Background(), ref)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error generating token: %v\n", err)
		os.Exit(1)
	}

	if jsonOutput {
		printJSON(tokenOutput{
			Token:     token,
			Type:      "bearer",
			ExpiresIn: ttl.String(),
			Claims: map[string]any{
				"principal": ref,
				"iss":       server.JWTIssuer,
				"aud":       server.JWTAudience,
				"env":       server.Environment,
			},
			Usage: map[string]string{
				"header": "Authorization: Bearer <token>",
			},
		})
		return
	}

	fmt.Println("Principal Token (JWT)")
	fmt.Println("=====================")
	fmt.Printf("Principal:   %s\n", ref)
	fmt.Printf("Environment: %s\n", server.Environment)
	fmt.Printf("Expires In:  %s\n", ttl)
	fmt.Println()
	fmt.Println("Token:")
	fmt.Println(token)
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  curl -H \"Authorization: Bearer <token>\" http://localhost:8080/api/v1/credentials/issue")
}

func showAdminToken(token string, jsonOutput bool) {
	if token == "" {
		fmt.Fprintln(os.Stderr, "ADMIN_API_TOKEN is not set; admin routes are disabled")
		os.Exit(1)
	}
	if jsonOutput {
		printJSON(tokenOutput{
			Token: token,
			Type:  "admin_token",
			Usage: map[string]string{
				"header": "X-Admin-Token: " + token,
			},
		})
		return
	}
	fmt.Println("Admin API Token")
	fmt.Println("===============")
	fmt.Printf("Token: %s\n", token)
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  curl -X POST -H \"X-Admin-Token: " + token + "\" http://localhost:8080/admin/reconcile")
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "Error encoding JSON: %v\n", err)
		os.Exit(1)
	}
}
