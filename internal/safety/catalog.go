package safety

import "regexp"

// pattern is one compiled regex and the advisory message shown when it
// matches an added line.
type pattern struct {
	re      *regexp.Regexp
	message string
}

// catalog is grouped by category the same way the pattern set this is
// ported from groups its entries (code, deserialization, credentials, ...),
// so a single category can be singled out for an escalation count.
var catalog = map[string][]pattern{
	"code_injection": {
		{regexp.MustCompile(`(?i)eval\s*\(`), "eval() detected - potential code injection risk"},
		{regexp.MustCompile(`(?i)exec\s*\(`), "exec() detected - potential code injection risk"},
		{regexp.MustCompile(`(?i)subprocess.*shell\s*=\s*True`), "shell=True detected - command injection risk"},
		{regexp.MustCompile(`(?i)os\.system\s*\(`), "os.system() detected - command injection risk"},
		{regexp.MustCompile(`(?i)__import__\s*\(`), "dynamic __import__ detected - review for injection risk"},
	},
	"deserialization": {
		{regexp.MustCompile(`(?i)pickle\.loads?\s*\(`), "pickle.load detected - unsafe deserialization risk"},
		{regexp.MustCompile(`(?i)yaml\.load\s*\([^,)]*\)`), "yaml.load() without a safe Loader"},
		{regexp.MustCompile(`(?i)marshal\.loads?\s*\(`), "marshal.load detected - unsafe deserialization risk"},
	},
	"credentials": {
		{regexp.MustCompile(`(?i)password\s*[:=]\s*["'][^"']+["']`), "hardcoded password literal"},
		{regexp.MustCompile(`(?i)api[_-]?key\s*[:=]\s*["'][^"']+["']`), "hardcoded API key literal"},
		{regexp.MustCompile(`(?i)secret\s*[:=]\s*["'][^"']+["']`), "hardcoded secret literal"},
		{regexp.MustCompile(`Bearer\s+[A-Za-z0-9_-]{20,}`), "bearer token literal detected"},
		{regexp.MustCompile(`-----BEGIN (RSA |EC |DSA |OPENSSH )?PRIVATE KEY-----`), "embedded private key material"},
		{regexp.MustCompile(`(?i)aws_access_key_id\s*[:=]`), "AWS access key literal"},
		{regexp.MustCompile(`(?i)jwt\.decode\([^)]*verify\s*=\s*False`), "JWT decoded without signature verification"},
	},
	"weak_crypto": {
		{regexp.MustCompile(`(?i)hashlib\.md5\s*\(`), "MD5 is not collision-resistant"},
		{regexp.MustCompile(`(?i)hashlib\.sha1\s*\(`), "SHA-1 is deprecated for security use"},
		{regexp.MustCompile(`(?i)DES\.new\s*\(`), "DES cipher is broken, use AES"},
	},
	"weak_randomness": {
		{regexp.MustCompile(`(?i)random\.(randint|random|choice|shuffle)\s*\(`), "non-cryptographic RNG used where security may matter"},
		{regexp.MustCompile(`Math\.random\s*\(`), "Math.random() is not cryptographically secure"},
	},
	"network": {
		{regexp.MustCompile(`verify\s*=\s*False`), "TLS certificate verification disabled"},
		{regexp.MustCompile(`ssl\._create_unverified_context`), "unverified SSL context"},
		{regexp.MustCompile(`InsecureRequestWarning`), "suppressing TLS warnings rather than fixing the cause"},
		// Go's regexp has no lookahead, so the localhost / 127.0.0.1
		// exclusion is spelled out one character at a time.
		{regexp.MustCompile(`http://(?:[^l1]|l(?:[^o]|o(?:[^c]|c(?:[^a]|a(?:[^l]|l(?:[^h]|h(?:[^o]|o(?:[^s]|s[^t])))))))|1(?:[^2]|2(?:[^7]|7(?:[^.]|\.(?:[^0]|0(?:[^.]|\.(?:[^0]|0(?:[^.]|\.[^1]))))))))`), "plaintext HTTP to a non-local host"},
	},
	"permissions": {
		{regexp.MustCompile(`chmod\s+777`), "world-writable permissions"},
		{regexp.MustCompile(`chmod\s+-R\s+777`), "recursive world-writable permissions"},
		{regexp.MustCompile(`os\.chmod\s*\([^,]+,\s*0o777\s*\)`), "chmod to 0o777 in code"},
	},
	"file_system": {
		{regexp.MustCompile(`rm\s+-rf\s+/(?:\s|$)`), "recursive delete rooted at the filesystem root"},
		{regexp.MustCompile(`\.\./\.\./\.\.|\.\.[\\/]\.\.[\\/]`), "suspicious parent-directory traversal"},
	},
}
