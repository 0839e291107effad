// Command keys genera seeds Ed25519 para SIGNING_SEED (sobres de eventos) y
// LEDGERS_SIGNING_SEED (ledger simulado), o muestra el JWKS de un seed dado.
package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"

	jwtx "github.com/dropDatabas3/datasov-bridge/internal/jwt"
)

func main() {
	var (
		flagEnvFile = flag.String("env-file", ".env", "ruta a .env")
		cmdGen      = flag.Bool("gen", false, "genera un seed Ed25519 nuevo (base64)")
		cmdJWKS     = flag.Bool("jwks", false, "imprime el JWKS del seed de SIGNING_SEED (o -seed)")
		flagSeed    = flag.String("seed", "", "seed base64 (pisa SIGNING_SEED)")
		flagKID     = flag.String("kid", "", "kid del JWKS (default SIGNING_KID o bridge-dev)")
	)
	flag.Parse()
	if *flagEnvFile != "" {
		_ = godotenv.Load(*flagEnvFile)
	}

	switch {
	case *cmdGen:
		seed := make([]byte, ed25519.SeedSize)
		if _, err := rand.Read(seed); err != nil {
			log.Fatalf("rand: %v", err)
		}
		fmt.Println(base64.StdEncoding.EncodeToString(seed))
	case *cmdJWKS:
		seed := *flagSeed
		if seed == "" {
			seed = os.Getenv("SIGNING_SEED")
		}
		if seed == "" {
			log.Fatal("falta seed (-seed o SIGNING_SEED)")
		}
		kid := *flagKID
		if kid == "" {
			kid = envOr("SIGNING_KID", "bridge-dev")
		}
		ks, err := jwtx.FromSeed(kid, seed)
		if err != nil {
			log.Fatalf("seed: %v", err)
		}
		fmt.Println(string(ks.JWKSJSON()))
	default:
		fmt.Println("Uso:")
		fmt.Println("  keys -gen                      # seed para SIGNING_SEED / LEDGERS_SIGNING_SEED")
		fmt.Println("  keys -jwks [-seed S] [-kid K]  # JWKS público del seed")
	}
}

func envOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
