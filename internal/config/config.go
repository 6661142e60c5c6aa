// Package config loads the agent's runtime configuration from the process
// environment (and an optional .env file), failing fast on anything the
// error taxonomy classifies as Config: missing required variables, a
// malformed agent UUID, or a malformed subscription list.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

// AdapterType selects which AAS collaborator style the agent ingests from.
type AdapterType string

const (
	AdapterBasyx  AdapterType = "basyx"
	AdapterFaaast AdapterType = "faaast"
)

// Subscription names one (aas_id, submodel_id) pair the agent replicates.
type Subscription struct {
	AasID      string `json:"aas_id"`
	SubmodelID string `json:"submodel_id"`
}

// Error reports a Config-class failure: fatal at startup, never retried.
type Error struct {
	Field string
	Msg   string
}

func (e *Error) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Msg)
}

// AgentConfig is the fully parsed, validated set of DELTASYNC_* settings.
type AgentConfig struct {
	AgentID           uuid.UUID
	AdapterType       AdapterType
	SMRepoURL         string
	AASRepoURL        string
	MQTTBroker        string
	Tenant            string
	DBPath            string
	BearerToken       string
	Subscriptions     []Subscription
	SigningPassphrase string
	JaegerEndpoint    string

	CACertFile     string
	ClientCertFile string
	ClientKeyFile  string
}

// Load reads .env (if present, ignoring a missing file) then parses and
// validates the DELTASYNC_* environment variables into an AgentConfig.
func Load() (*AgentConfig, error) {
	_ = godotenv.Load()
	return FromEnv()
}

// FromEnv parses and validates the current process environment without
// touching any .env file. Exported separately so tests can set env vars
// directly instead of writing a file to disk.
func FromEnv() (*AgentConfig, error) {
	agentIDRaw := os.Getenv("DELTASYNC_AGENT_ID")
	if agentIDRaw == "" {
		return nil, &Error{Field: "DELTASYNC_AGENT_ID", Msg: "required"}
	}
	agentID, err := uuid.Parse(agentIDRaw)
	if err != nil {
		return nil, &Error{Field: "DELTASYNC_AGENT_ID", Msg: "not a valid UUID"}
	}

	adapterRaw := os.Getenv("DELTASYNC_ADAPTER_TYPE")
	var adapter AdapterType
	switch AdapterType(adapterRaw) {
	case AdapterBasyx, AdapterFaaast:
		adapter = AdapterType(adapterRaw)
	default:
		return nil, &Error{Field: "DELTASYNC_ADAPTER_TYPE", Msg: "must be basyx or faaast"}
	}

	smRepoURL := os.Getenv("DELTASYNC_SM_REPO_URL")
	if smRepoURL == "" {
		return nil, &Error{Field: "DELTASYNC_SM_REPO_URL", Msg: "required"}
	}
	aasRepoURL := os.Getenv("DELTASYNC_AAS_REPO_URL")
	if aasRepoURL == "" {
		return nil, &Error{Field: "DELTASYNC_AAS_REPO_URL", Msg: "required"}
	}
	mqttBroker := os.Getenv("DELTASYNC_MQTT_BROKER")
	if mqttBroker == "" {
		return nil, &Error{Field: "DELTASYNC_MQTT_BROKER", Msg: "required"}
	}
	tenant := os.Getenv("DELTASYNC_TENANT")
	if tenant == "" {
		return nil, &Error{Field: "DELTASYNC_TENANT", Msg: "required"}
	}
	dbPath := os.Getenv("DELTASYNC_DB_PATH")
	if dbPath == "" {
		return nil, &Error{Field: "DELTASYNC_DB_PATH", Msg: "required"}
	}

	var subs []Subscription
	if raw := os.Getenv("DELTASYNC_SUBSCRIPTIONS"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &subs); err != nil {
			return nil, &Error{Field: "DELTASYNC_SUBSCRIPTIONS", Msg: "not a valid JSON list: " + err.Error()}
		}
	}

	return &AgentConfig{
		AgentID:           agentID,
		AdapterType:       adapter,
		SMRepoURL:         smRepoURL,
		AASRepoURL:        aasRepoURL,
		MQTTBroker:        mqttBroker,
		Tenant:            tenant,
		DBPath:            dbPath,
		BearerToken:       os.Getenv("DELTASYNC_BEARER_TOKEN"),
		Subscriptions:     subs,
		SigningPassphrase: os.Getenv("DELTASYNC_SIGNING_PASSPHRASE"),
		JaegerEndpoint:    os.Getenv("DELTASYNC_JAEGER_ENDPOINT"),
		CACertFile:        os.Getenv("DELTASYNC_CA_CERT"),
		ClientCertFile:    os.Getenv("DELTASYNC_CLIENT_CERT"),
		ClientKeyFile:     os.Getenv("DELTASYNC_CLIENT_KEY"),
	}, nil
}

// BearerTokenExpiry returns the expiry time encoded in the configured
// bearer token's claims, without verifying its signature: the agent is a
// bearer of the token, not its issuer, and has no key to verify against.
// This is used only to log an early warning before the AAS server itself
// rejects an expired token.
func (c *AgentConfig) BearerTokenExpiry() (time.Time, error) {
	if c.BearerToken == "" {
		return time.Time{}, fmt.Errorf("config: no bearer token configured")
	}

	claims := jwt.MapClaims{}
	parser := jwt.NewParser(jwt.WithoutClaimsValidation())
	if _, _, err := parser.ParseUnverified(c.BearerToken, claims); err != nil {
		return time.Time{}, fmt.Errorf("config: bearer token: %w", err)
	}

	exp, err := claims.GetExpirationTime()
	if err != nil {
		return time.Time{}, fmt.Errorf("config: bearer token has no exp claim: %w", err)
	}
	if exp == nil {
		return time.Time{}, fmt.Errorf("config: bearer token has no exp claim")
	}
	return exp.Time, nil
}
