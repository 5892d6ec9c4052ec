package config

import (
	"strings"
	"testing"
)

func TestValidate_ValidConfig(t *testing.T) {
	cfg := GetDefaultConfig()

	err := Validate(cfg)
	if err != nil {
		t.Errorf("Expected valid config to pass validation, got error: %v", err)
	}
}

func TestValidate_InvalidLogLevel(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Logging.Level = "INVALID"

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for invalid log level")
	}
	if !strings.Contains(err.Error(), "oneof") {
		t.Errorf("Expected 'oneof' validation error, got: %v", err)
	}
}

func TestValidate_LowercaseLogLevel(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Logging.Level = "debug"

	if err := Validate(cfg); err != nil {
		t.Errorf("Expected lowercase level to be accepted, got: %v", err)
	}
}

func TestValidate_InvalidLogFormat(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Logging.Format = "xml"

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for invalid log format")
	}
}

func TestValidate_EmptyLogOutput(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Logging.Output = ""

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for empty log output")
	}
	if !strings.Contains(err.Error(), "required") {
		t.Errorf("Expected 'required' validation error, got: %v", err)
	}
}

func TestValidate_EmptyIdentifier(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Identifier = ""

	if err := Validate(cfg); err == nil {
		t.Fatal("Expected validation error for empty identifier")
	}
}

func TestValidate_IdentifierWithLineBreak(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Identifier = "owner\r\nBcc: someone@example.org"

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for identifier with a line break")
	}
	if !strings.Contains(err.Error(), "Identifier") {
		t.Errorf("Expected error to name the field, got: %v", err)
	}
}

func TestValidate_LocatorNotRequired(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Locator = ""

	if err := Validate(cfg); err != nil {
		t.Errorf("Expected config without locator to be valid, got: %v", err)
	}
}
