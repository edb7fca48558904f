package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/passbi/intercity/internal/middleware"
)

func main() {
	tenant := flag.String("tenant", "", "Tenant (cooperative) ID")
	subject := flag.String("subject", "dev", "Subject, e.g. the ticket office or user")
	scopes := flag.String("scopes", "*", "Comma separated scopes: sales, boarding, trips:write or *")
	ttl := flag.Duration("ttl", 24*time.Hour, "Token lifetime")
	flag.Parse()

	_ = godotenv.Load()
	secret := os.Getenv("JWT_SECRET")

	if *tenant == "" || secret == "" {
		fmt.Println("Error: --tenant and JWT_SECRET are required")
		os.Exit(1)
	}

	var list []string
	for _, s := range strings.Split(*scopes, ",") {
		if s = strings.TrimSpace(s); s != "" {
			list = append(list, s)
		}
	}

	token, err := middleware.IssueToken([]byte(secret), *tenant, *subject, list, *ttl)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("═══════════════════════════════════════════════════")
	fmt.Println("🔑 Tenant Token Generated")
	fmt.Println("═══════════════════════════════════════════════════")
	fmt.Printf("Tenant:   %s\n", *tenant)
	fmt.Printf("Subject:  %s\n", *subject)
	fmt.Printf("Scopes:   %s\n", strings.Join(list, ", "))
	fmt.Printf("Expires:  %s\n", time.Now().Add(*ttl).Format(time.RFC3339))
	fmt.Printf("\nToken:\n%s\n", token)
	fmt.Println("═══════════════════════════════════════════════════")
	fmt.Println("\nUse it as:")
	fmt.Println("Authorization: Bearer <token>")
	fmt.Println("═══════════════════════════════════════════════════")
}
