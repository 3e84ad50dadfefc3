// Package config resolves the supervisor's configuration.
//
// Layers, higher overriding lower:
//
//	┌─────────────────────────────┐
//	│  5. Command-line flags      │  ← Highest priority
//	├─────────────────────────────┤
//	│  4. TANDEM_* environment    │
//	├─────────────────────────────┤
//	│  3. env_file (.env)         │  ← never overrides set variables
//	├─────────────────────────────┤
//	│  2. Config file             │  ← tandem.toml / tandem.yaml
//	├─────────────────────────────┤
//	│  1. Built-in defaults       │  ← Lowest priority
//	└─────────────────────────────┘
//
// The dotenv file feeds the process environment, so it reaches both the
// TANDEM_* layer and the children.
//
// Example tandem.toml:
//
//	[server]
//	command = "gunicorn --config gunicorn_conf.py app.main:app"
//
//	[subscriber]
//	command = ["python", "-m", "app.subscriber"]
//
//	[shutdown]
//	timeout = "20s"
//	on_child_exit = "shutdown"
package config
