package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const machineTokenPrefix = "do96_"

// MachineTokenGenerator issues long-lived tokens for PLCs and scripts.
// Format: do96_<uuid>_<64 hex chars>
type MachineTokenGenerator struct{}

func NewMachineTokenGenerator() *MachineTokenGenerator {
	return &MachineTokenGenerator{}
}

// GenerateMachineToken returns the token and the hash to store.
func (m *MachineTokenGenerator) GenerateMachineToken() (string, string, error) {
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return "", "", fmt.Errorf("failed to generate secret: %w", err)
	}

	token := machineTokenPrefix + uuid.NewString() + "_" + hex.EncodeToString(secret)
	return token, m.HashToken(token), nil
}

func (m *MachineTokenGenerator) HashToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}

func (m *MachineTokenGenerator) ValidateTokenFormat(token string) bool {
	rest, ok := strings.CutPrefix(token, machineTokenPrefix)
	if !ok {
		return false
	}
	id, secret, ok := strings.Cut(rest, "_")
	if !ok || len(secret) != 64 {
		return false
	}
	if _, err := uuid.Parse(id); err != nil {
		return false
	}
	_, err := hex.DecodeString(secret)
	return err == nil
}
