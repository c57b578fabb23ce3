package config

import (
	"fmt"
	"os"
)

// exampleConfig is the template written by Init: a Rust project verified
// across platform images and toolchain release channels.
const exampleConfig = `# matrixci pipeline configuration
project: myproject

# Optional: clone the project source into each lane workspace before
# provisioning. Omit to run stages in the current directory.
# source:
#   url: https://example.com/myproject.git
#   ref: main
#   depth: 1

matrix:
  axes:
    - name: target
      entries:
        - id: linux-stable
          vars: { image: ubuntu-22.04, channel: stable }
        - id: linux-beta
          vars: { image: ubuntu-22.04, channel: beta }
        - id: linux-nightly
          vars: { image: ubuntu-22.04, channel: nightly }
        - id: macos-stable
          vars: { image: macos-13, channel: stable }
        - id: windows-stable
          vars: { image: windows-2022, channel: stable }

# Stages run in this order within every lane; the first non-zero exit stops
# the lane (fail-fast).
stages:
  - name: build
    commands:
      - cargo build --verbose --all --tests
  - name: lint
    commands:
      - cargo clippy --all-targets --all-features -- -D warnings
  - name: test
    commands:
      - cargo test --verbose --all
  - name: docs
    commands:
      - cargo doc --no-deps

# Binds the lane's toolchain channel before stage 1. The lane's variables are
# exported as MATRIXCI_* environment variables.
provisioner:
  command: rustup toolchain install "$MATRIXCI_CHANNEL" && rustup default "$MATRIXCI_CHANNEL"

execution:
  workers: 4
  lane_timeout: 30m
  retry:
    backoff: linear
    initial: 1s
    max: 30s
    max_retries: 0   # retries apply to infrastructure failures only

history:
  path: matrixci.db

logging:
  level: info
  format: text

daemon:
  interval: 1h
  metrics_addr: ":9090"
`

// Init creates a new configuration file with example content.
func Init(configPath string, force bool) error {
	if _, err := os.Stat(configPath); err == nil && !force {
		return fmt.Errorf("configuration file already exists: %s (use --force to overwrite)", configPath)
	}
	if err := os.WriteFile(configPath, []byte(exampleConfig), 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
