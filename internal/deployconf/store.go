// Package deployconf reads and writes the per-instance deploy.yaml
// descriptor. The descriptor lives in the instance's mounted config
// directory and is shared with the container, which may write its own
// values into it after startup.
package deployconf

import (
	"errors"
	"fmt"
	"log"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// FileName is the descriptor file name inside a config directory.
const FileName = "deploy.yaml"

var (
	ErrNotFound = errors.New("deploy config not found")
	ErrParse    = errors.New("deploy config parse failed")
	ErrInvalid  = errors.New("deploy config validation failed")
	ErrWrite    = errors.New("deploy config write failed")
	ErrTimeout  = errors.New("timed out waiting for deploy config")
)

const sshUserCharset = "abcdefghijklmnopqrstuvwxyz0123456789"

// Path returns the descriptor location for a config directory.
func Path(configPath string) string {
	return filepath.Join(configPath, FileName)
}

// Exists reports whether the descriptor file is present.
func Exists(configPath string) bool {
	_, err := os.Stat(Path(configPath))
	return err == nil
}

// Read parses the descriptor into a generic document.
func Read(configPath string) (map[string]interface{}, error) {
	data, err := os.ReadFile(Path(configPath))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, Path(configPath))
		}
		return nil, fmt.Errorf("read deploy config: %w", err)
	}

	var doc map[string]interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	return doc, nil
}

// Write validates raw YAML content and replaces the descriptor with it.
// On validation failure the existing file is left untouched.
func Write(configPath string, content []byte) error {
	var doc interface{}
	if err := yaml.Unmarshal(content, &doc); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if err := os.WriteFile(Path(configPath), content, 0o644); err != nil {
		return fmt.Errorf("%w: %v", ErrWrite, err)
	}
	return nil
}

// SSHUser returns Deploy.RemoteAccess.SSHUser, or "" when any level of the
// path is missing.
func SSHUser(configPath string) (string, error) {
	doc, err := Read(configPath)
	if err != nil {
		return "", err
	}
	deploy, _ := doc["Deploy"].(map[string]interface{})
	remote, _ := deploy["RemoteAccess"].(map[string]interface{})
	user, _ := remote["SSHUser"].(string)
	return user, nil
}

// SetSSHUser writes Deploy.RemoteAccess.SSHUser into the descriptor,
// creating the nested sections as needed and preserving the rest of the
// document.
func SetSSHUser(configPath, user string) error {
	doc, err := Read(configPath)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			return err
		}
		doc = map[string]interface{}{}
	}

	deploy, ok := doc["Deploy"].(map[string]interface{})
	if !ok {
		deploy = map[string]interface{}{}
		doc["Deploy"] = deploy
	}
	remote, ok := deploy["RemoteAccess"].(map[string]interface{})
	if !ok {
		remote = map[string]interface{}{}
		deploy["RemoteAccess"] = remote
	}
	remote["SSHUser"] = user

	return writeDoc(configPath, doc)
}

// EnsureSeeded copies the template into the config directory when no
// descriptor exists yet, then injects a generated SSH identity unless the
// config already defines one. Template absence is tolerated: identity
// acquisition is then deferred to the tunnel negotiation.
func EnsureSeeded(configPath, templatePath, userPrefix string) error {
	if !Exists(configPath) {
		data, err := os.ReadFile(templatePath)
		if err != nil {
			log.Printf("[deployconf] No template at %s, skipping pre-seed: %v", templatePath, err)
			return nil
		}
		if err := os.WriteFile(Path(configPath), data, 0o644); err != nil {
			return fmt.Errorf("%w: %v", ErrWrite, err)
		}
	}

	user, err := SSHUser(configPath)
	if err != nil {
		return err
	}
	if user != "" {
		return nil
	}
	return SetSSHUser(configPath, GenerateSSHUser(userPrefix))
}

// WaitForConfig polls for the descriptor to appear, once per interval, up
// to attempts times. The container writes the file during its own startup,
// so a fresh deploy races against it.
func WaitForConfig(configPath string, attempts int, interval time.Duration) error {
	for i := 0; i < attempts; i++ {
		if Exists(configPath) {
			return nil
		}
		time.Sleep(interval)
	}
	return fmt.Errorf("%w after %d attempts: %s", ErrTimeout, attempts, Path(configPath))
}

// GenerateSSHUser builds a remote identity: prefix, the last six digits of
// the current unix time, and four random lowercase alphanumerics.
func GenerateSSHUser(prefix string) string {
	suffix := make([]byte, 4)
	for i := range suffix {
		suffix[i] = sshUserCharset[rand.Intn(len(sshUserCharset))]
	}
	return fmt.Sprintf("%s%06d%s", prefix, time.Now().Unix()%1000000, suffix)
}

func writeDoc(configPath string, doc map[string]interface{}) error {
	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrWrite, err)
	}
	if err := os.WriteFile(Path(configPath), data, 0o644); err != nil {
		return fmt.Errorf("%w: %v", ErrWrite, err)
	}
	return nil
}
