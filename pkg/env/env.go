package env

import (
	"log"

	"github.com/joho/godotenv"
)

// LoadEnv loads a .env file from the working directory if present. A
// missing file is not fatal — cmd/master and cmd/agent fall back to
// whatever the process environment and internal/config's viper
// defaults already provide.
func LoadEnv() {
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️  No .env file found, using system envs")
	}
}
