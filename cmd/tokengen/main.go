// Command tokengen issues a session token for a wallet address, signed with
// the JWT settings the server reads from the environment.
package main

import (
	"flag"
	"fmt"
	"os"

	jwttoken "remittance/internal/jwt_token"
	"remittance/internal/platform/config"
	id "remittance/pkg/domain"
)

func main() {
	address := flag.String("address", "", "wallet address to authenticate as (0x...)")
	ttl := flag.Duration("ttl", 0, "token lifetime (defaults to TOKEN_TTL)")
	flag.Parse()

	cfg, err := config.FromEnv()
	if err != nil {
		fail(err)
	}
	addr, err := id.ParseAddress(*address)
	if err != nil {
		fail(fmt.Errorf("-address: %w", err))
	}
	lifetime := cfg.TokenTTL
	if *ttl > 0 {
		lifetime = *ttl
	}

	tokens := jwttoken.NewJWTService(cfg.JWTSigningKey, cfg.JWTIssuer, cfg.JWTAudience)
	token, err := tokens.IssueSessionToken(addr, lifetime)
	if err != nil {
		fail(err)
	}
	fmt.Println(token)
}

func fail(err error) {
	fmt.Fprintln(os.Stderr, "tokengen:", err)
	os.Exit(1)
}
