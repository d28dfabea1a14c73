package patterns

// loadDefaults installs the compiled-in baseline pattern lists. These mirror
// the categories an operator can override per-deployment by dropping YAML
// files of the same shape into the pattern directory.
func (s *Store) loadDefaults() {
	s.Injection = mustCompile([]Pattern{
		{Name: "ignore_instructions", Regex: `ignore (all |any )?(previous|prior|above|earlier) instructions?`, Reason: "instruction override phrasing"},
		{Name: "disregard_instructions_ru", Regex: `игнорируй (все )?(предыдущие|прошлые) инструкции`, Reason: "instruction override phrasing (ru)"},
		{Name: "forget_instructions", Regex: `forget (everything|all|what) (you('ve| have))? ?(been told|learned|said)`, Reason: "instruction override phrasing"},
		{Name: "fake_system_role", Regex: `\[\s*(system|admin|developer|root)\s*\]`, Reason: "fake system-role marker"},
		{Name: "dan_mode", Regex: `\bdan\s*mode\b`, Reason: "mode-switch jargon"},
		{Name: "jailbreak", Regex: `\bjailbreak(ing)?\b`, Reason: "mode-switch jargon"},
		{Name: "developer_mode", Regex: `\bdeveloper mode\b`, Reason: "mode-switch jargon"},
		{Name: "prompt_extraction", Regex: `(repeat|print|reveal|show)( me)? (your |the )?(system prompt|initial instructions|hidden prompt)`, Reason: "prompt-extraction request"},
		{Name: "extraction_ru", Regex: `покажи (свой |системный )?промпт`, Reason: "prompt-extraction request (ru)"},
		{Name: "roleplay_impersonation", Regex: `you are now (a|an|my) [a-z0-9 _-]+ (with no (restrictions|limits|rules)|unbound|unfiltered)`, Reason: "role-play impersonation"},
		{Name: "tool_registration", Regex: `(register|define|add) a new tool (called|named)`, Reason: "tool-registration attempt"},
		{Name: "pretend_unrestricted", Regex: `pretend (you|that) (have|has) no (content )?polic(y|ies)`, Reason: "instruction override phrasing"},
	})

	s.Blocked = mustCompile([]Pattern{
		{Name: "env_exfil", Regex: `\b(cat|less|more|head|tail)\s+.*\.env\b`, Reason: "reads environment secrets file"},
		{Name: "env_print", Regex: `\bprintenv\b|\benv\b\s*\|`, Reason: "dumps process environment"},
		{Name: "sensitive_read", Regex: `\b(cat|less|more|head|tail)\s+.*(credentials|secrets|\.pem|\.key|id_rsa|\.npmrc|\.pypirc)\b`, Reason: "reads sensitive credential file"},
		{Name: "curl_exfil", Regex: `curl\s+.*(-d|--data|-F)\s+.*@.*\.env`, Reason: "exfiltration via curl"},
		{Name: "dns_exfil", Regex: `(dig|nslookup)\s+.*\$\(`, Reason: "DNS exfiltration via command substitution"},
		{Name: "wget_exfil", Regex: `wget\s+--post-file`, Reason: "exfiltration via wget"},
		{Name: "sudo_escalation", Regex: `\bsudo\b|\bsu\s+-|\bdoas\b`, Reason: "privilege escalation inside sandbox"},
		{Name: "setuid", Regex: `chmod\s+[ugo]*\+?s\b`, Reason: "privilege escalation via setuid"},
		{Name: "run_secrets", Regex: `/run/secrets`, Reason: "reads orchestrator-mounted secrets"},
		{Name: "docker_socket", Regex: `/var/run/docker\.sock`, Reason: "reaches the Docker control socket"},
		{Name: "crypto_miner", Regex: `\b(xmrig|minerd|ethminer|cgminer)\b`, Reason: "crypto mining"},
		{Name: "fork_bomb", Regex: `:\(\)\s*\{\s*:\s*\|\s*:\s*&\s*\}\s*;\s*:`, Reason: "fork bomb"},
		{Name: "resource_bomb", Regex: `/dev/zero\s+of=|yes\s*>\s*/dev`, Reason: "resource exhaustion bomb"},
		{Name: "symlink_to_root", Regex: `ln\s+-s\S*\s+/($|[^/])`, Reason: "symlink to filesystem root"},
		{Name: "metadata_endpoint", Regex: `169\.254\.169\.254|metadata\.google\.internal`, Reason: "cloud metadata endpoint"},
		{Name: "encoder_output", Regex: `\|\s*(base64|xxd)\b`, Reason: "base64/hex encoder in output position"},
	})

	s.Dangerous = mustCompile([]Pattern{
		{Name: "recursive_delete", Regex: `rm\s+(-[a-z]*r[a-z]*f[a-z]*|-[a-z]*f[a-z]*r[a-z]*)\s`, Reason: "recursive delete"},
		{Name: "rm_rf_literal", Regex: `rm\s+-rf\b`, Reason: "rm -rf"},
		{Name: "world_writable", Regex: `chmod\s+(-R\s+)?0?777\b`, Reason: "world-writable chmod"},
		{Name: "disk_device_write", Regex: `dd\s+.*of=/dev/(sd|nvme|hd)`, Reason: "writes to a disk device"},
		{Name: "partition_tool", Regex: `\b(fdisk|parted|mkfs)\b`, Reason: "partition/format tool"},
		{Name: "filesystem_format", Regex: `mkfs\.\w+`, Reason: "filesystem format"},
		{Name: "force_git", Regex: `git\s+push\s+.*--force|git\s+reset\s+--hard`, Reason: "force git operation"},
		{Name: "drop_table", Regex: `\bdrop\s+table\b`, Reason: "DROP TABLE"},
		{Name: "shutdown", Regex: `\b(shutdown|reboot|poweroff|halt)\b`, Reason: "host shutdown"},
		{Name: "reverse_shell", Regex: `(nc|ncat|socat)\s+.*-e\s*/bin/(sh|bash)|bash\s+-i\s+>&`, Reason: "reverse shell idiom"},
		{Name: "curl_pipe_sh", Regex: `(curl|wget)\s+.*\|\s*(sh|bash)\b`, Reason: "curl/wget piped to a shell"},
		{Name: "k8s_mass_delete", Regex: `kubectl\s+delete\s+.*--all\b`, Reason: "Kubernetes mass delete"},
	})

	s.SensitiveFiles = mustCompile([]Pattern{
		{Name: "dotenv", Regex: `^\.env(\..+)?$`, Reason: "environment secrets file"},
		{Name: "credentials", Regex: `^credentials.*$`, Reason: "credentials file"},
		{Name: "secrets", Regex: `^secrets.*$`, Reason: "secrets file"},
		{Name: "keypair", Regex: `^id_(rsa|dsa|ecdsa|ed25519)(\.pub)?$`, Reason: "SSH keypair file"},
		{Name: "pem", Regex: `\.pem$`, Reason: "PEM key material"},
		{Name: "key", Regex: `\.key$`, Reason: "key file"},
		{Name: "oauth_token", Regex: `^\.?(oauth|token)s?(\.json)?$`, Reason: "OAuth token file"},
		{Name: "npmrc", Regex: `^\.npmrc$`, Reason: "npm registry credentials"},
		{Name: "pypirc", Regex: `^\.pypirc$`, Reason: "PyPI registry credentials"},
	})

	s.DangerousCode = mustCompile([]Pattern{
		{Name: "env_access_generic", Regex: `os\.(Getenv|Environ)|process\.env|os\.environ\b|System\.getenv`, Reason: "environment-variable access"},
		{Name: "dotenv_loader", Regex: `dotenv|load_dotenv|require\(['"]dotenv['"]\)`, Reason: "dotenv-style secret loader"},
		{Name: "post_with_payload", Regex: `requests\.post\(|http\.Post\(|fetch\(.*method:\s*['"]POST['"]`, Reason: "outbound POST idiom"},
		{Name: "reverse_shell_code", Regex: `socket\.socket\(.*SOCK_STREAM\).*connect|subprocess\.(call|Popen)\(\s*\[?['"]/bin/sh`, Reason: "reverse-shell idiom in source"},
		{Name: "reads_etc", Regex: `open\(['"]/etc/`, Reason: "reads from /etc"},
		{Name: "reads_dotenv_code", Regex: `open\(['"]\.env['"]\)|ReadFile\(['"]\.env['"]\)`, Reason: "reads .env from source"},
	})

	s.SecretRegexes = mustCompile([]Pattern{
		{Name: "openai_key", Regex: `sk-[a-zA-Z0-9]{20,}`, Reason: "OpenAI-shaped API key"},
		{Name: "tavily_key", Regex: `tvly-[a-zA-Z0-9]{20,}`, Reason: "Tavily-shaped API key"},
		{Name: "github_token", Regex: `gh[pousr]_[A-Za-z0-9]{20,}`, Reason: "GitHub-shaped token"},
		{Name: "slack_token", Regex: `xox[baprs]-[A-Za-z0-9-]{10,}`, Reason: "Slack-shaped token"},
		{Name: "aws_access_id", Regex: `AKIA[0-9A-Z]{16}`, Reason: "AWS access key id"},
		{Name: "bot_token", Regex: `\d{6,10}:[A-Za-z0-9_-]{35}`, Reason: "bot-token shape"},
		{Name: "bearer_auth", Regex: `\bBearer\s+[A-Za-z0-9._~+/=-]{10,}`, Reason: "Bearer token"},
		{Name: "basic_auth", Regex: `\bBasic\s+[A-Za-z0-9+/=]{10,}`, Reason: "Basic auth credential"},
		{Name: "pem_block", Regex: `-----BEGIN [A-Z ]*PRIVATE KEY-----`, Reason: "PEM private key block"},
		{Name: "generic_kv_secret", Regex: `\b(API_?KEY|TOKEN|SECRET|PASSWORD|CREDENTIAL|ACCESS_?KEY)\s*=\s*\S+`, Reason: "generic KEY=value secret"},
		{Name: "ip_port_url", Regex: `\b\d{1,3}(\.\d{1,3}){3}:\d{2,5}\b`, Reason: "IP:port address"},
	})

	s.SecretKeyNames = mustCompile([]Pattern{
		{Name: "secret_key_name", Regex: `^(API_?KEY|TOKEN|SECRET|PASSWORD|CREDENTIAL|ACCESS_?KEY|PRIVATE_?KEY)$`, Reason: "secret-shaped key name"},
	})

	s.GrepSecretTerms = mustCompile([]Pattern{
		{Name: "password_term", Regex: `password`, Reason: "secret-like grep term"},
		{Name: "token_term", Regex: `token`, Reason: "secret-like grep term"},
		{Name: "api_key_term", Regex: `api.?key`, Reason: "secret-like grep term"},
		{Name: "credential_term", Regex: `credential`, Reason: "secret-like grep term"},
		{Name: "private_key_term", Regex: `private.?key`, Reason: "secret-like grep term"},
	})

	s.BlockedURLs = mustCompile([]Pattern{
		{Name: "metadata_endpoint_url", Regex: `169\.254\.169\.254|metadata\.google\.internal`, Reason: "cloud metadata endpoint"},
		{Name: "localhost_url", Regex: `://(localhost|127\.0\.0\.1|0\.0\.0\.0|\[::1\])([:/]|$)`, Reason: "loopback fetch target"},
		{Name: "private_ip_10", Regex: `://10\.\d{1,3}\.\d{1,3}\.\d{1,3}`, Reason: "private network fetch target"},
		{Name: "private_ip_172", Regex: `://172\.(1[6-9]|2\d|3[01])\.\d{1,3}\.\d{1,3}`, Reason: "private network fetch target"},
		{Name: "private_ip_192", Regex: `://192\.168\.\d{1,3}\.\d{1,3}`, Reason: "private network fetch target"},
		{Name: "docker_internal_host", Regex: `host\.docker\.internal`, Reason: "container-host bridge address"},
		{Name: "file_scheme", Regex: `^file://`, Reason: "local file scheme disallowed for fetch"},
	})

	s.BlockedDirs = []string{
		"/etc", "/root", "/.ssh", "/proc", "/sys", "/dev", "/boot", "/var/log", "/var/run",
	}
}

// mustCompile compiles a literal default list; a regex error here is a
// programming error in the built-in patterns, not a runtime condition.
func mustCompile(list []Pattern) []Pattern {
	if err := compileAll(list); err != nil {
		panic(err)
	}
	return list
}
