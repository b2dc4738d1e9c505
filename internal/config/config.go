package config // package config loads application configuration from environment variables

import (
	"log"     // log reports configuration errors and halts execution
	"os"      // os provides access to environment variables
	"strconv" // strconv converts strings to other types
)

// Config holds all runtime configuration values. Each field corresponds to
// an environment variable. The types reflect how the values are used in the
// application: strings for identifiers and secrets, ints for durations and
// limits.
type Config struct {
	Env          string // application environment (e.g. "dev", "prod")
	Port         string // HTTP port to listen on
	DBUser       string // database username
	DBPass       string // database password (optional)
	DBHost       string // database host address
	DBPort       string // database port number
	DBName       string // database name
	JWTSecret    string // secret used to sign access tokens
	AccessTTLMin int    // access token time-to-live in minutes

	RPID     string // relying party id, the domain credentials are scoped to
	RPName   string // human-readable relying party name shown by the browser
	RPOrigin string // exact web origin the browser reports, scheme included

	OTPTTLSec int // fallback code lifetime in seconds
	OTPLength int // number of digits in a fallback code

	MaxLoginAttempts     int // login ceremony starts allowed per window
	MaxRegisterAttempts  int // registration ceremony starts allowed per window
	MaxOTPRequests       int // fallback code generations allowed per window
	MaxOTPVerifyAttempts int // fallback code checks allowed per window
	RateLimitWindowSec   int // ceremony limit window in seconds
}

// Load reads configuration values from environment variables and returns a
// Config. Required variables are enforced by must() and missing values
// cause the program to exit with a fatal log message; tunables with safe
// defaults use intOr().
func Load() Config {
	return Config{
		Env:          must("APP_ENV"),
		Port:         must("APP_PORT"),
		DBUser:       must("DB_USER"),
		DBPass:       os.Getenv("DB_PASS"), // empty allowed
		DBHost:       must("DB_HOST"),
		DBPort:       must("DB_PORT"),
		DBName:       must("DB_NAME"),
		JWTSecret:    must("JWT_SECRET"),
		AccessTTLMin: mustInt("ACCESS_TOKEN_TTL_MIN"),

		RPID:     must("RP_ID"),
		RPName:   must("RP_NAME"),
		RPOrigin: must("RP_ORIGIN"),

		OTPTTLSec: intOr("OTP_TTL_SEC", 300),
		OTPLength: intOr("OTP_LENGTH", 6),

		MaxLoginAttempts:     intOr("MAX_LOGIN_ATTEMPTS", 5),
		MaxRegisterAttempts:  intOr("MAX_REGISTER_ATTEMPTS", 3),
		MaxOTPRequests:       intOr("MAX_OTP_REQUESTS", 3),
		MaxOTPVerifyAttempts: intOr("MAX_OTP_VERIFY_ATTEMPTS", 5),
		RateLimitWindowSec:   intOr("RATE_LIMIT_WINDOW_SEC", 900),
	}
}

// must retrieves the value of a required environment variable. If the
// variable is unset or empty, the application logs a fatal error and exits.
func must(key string) string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		log.Fatalf("missing required env var: %s", key)
	}
	return v
}

// mustInt is like must() but converts the retrieved string into an integer.
func mustInt(key string) int {
	s := must(key)
	n, err := strconv.Atoi(s)
	if err != nil {
		log.Fatalf("invalid int for %s: %q", key, s)
	}
	return n
}

// intOr reads an optional integer variable, falling back to def when unset
// and exiting on garbage: a typo in a security tunable must not silently
// become the default.
func intOr(key string, def int) int {
	s, ok := os.LookupEnv(key)
	if !ok || s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		log.Fatalf("invalid int for %s: %q", key, s)
	}
	return n
}
