package discovery

import (
	"log"
	"path/filepath"
)

// ScanResult holds everything one scan pass found.
type ScanResult struct {
	Credentials []Credential `json:"credentials"`
	Errors      []ScanError  `json:"errors,omitempty"`
}

// ScanError records a source that could not be read.
type ScanError struct {
	Source string `json:"source"`
	Path   string `json:"path"`
	Error  string `json:"error"`
}

// ScanAll checks every known source plus the environment for credentials.
func ScanAll() *ScanResult {
	result := &ScanResult{
		Credentials: make([]Credential, 0),
		Errors:      make([]ScanError, 0),
	}

	for _, source := range Sources {
		creds, errs := scanSource(source)
		result.Credentials = append(result.Credentials, creds...)
		result.Errors = append(result.Errors, errs...)
	}
	result.Credentials = append(result.Credentials, scanEnv()...)

	log.Printf("🔍 Discovery: found %d credentials from %d sources", len(result.Credentials), len(Sources)+1)
	return result
}

func scanSource(source Source) ([]Credential, []ScanError) {
	var credentials []Credential
	var errors []ScanError

	for _, pathPattern := range source.ConfigPaths {
		expanded := expandPath(pathPattern)

		matches, err := filepath.Glob(expanded)
		if err != nil {
			errors = append(errors, ScanError{Source: source.Name, Path: expanded, Error: err.Error()})
			continue
		}

		for _, path := range matches {
			cred, err := source.Parser(path)
			if err != nil {
				errors = append(errors, ScanError{Source: source.Name, Path: path, Error: err.Error()})
				continue
			}
			if cred != nil && cred.AccessToken != "" {
				log.Printf("🔍 Found credentials from %s: %s", source.Name, path)
				credentials = append(credentials, *cred)
			}
		}
	}
	return credentials, errors
}

// MaskToken keeps just enough of a token to recognize it.
func MaskToken(token string) string {
	if len(token) <= 8 {
		return "***"
	}
	return token[:4] + "..." + token[len(token)-4:]
}

// MaskCredential returns a copy safe to serialize.
func MaskCredential(cred Credential) Credential {
	masked := cred
	masked.AccessToken = MaskToken(cred.AccessToken)
	if cred.RefreshToken != "" {
		masked.RefreshToken = MaskToken(cred.RefreshToken)
	}
	return masked
}
