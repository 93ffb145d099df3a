package log

import (
	"context"
	"io"
	"log/slog"
	"net/url"
	"regexp"
	"slices"
	"strings"
)

// sensitiveKeys contains attribute keys whose values are always masked.
var sensitiveKeys = map[string]bool{
	// HTTP headers sent to RPC providers
	"authorization":       true,
	"x-api-key":           true,
	"proxy-authorization": true,

	// Provider credentials
	"api_key":    true,
	"apikey":     true,
	"api-key":    true,
	"project_id": true,
	"jwt":        true,

	// Wallet material
	"private_key": true,
	"privatekey":  true,
	"keystore":    true,
	"seed":        true,
	"mnemonic":    true,
}

// sensitiveKeywords mark a key as sensitive when contained in it.
// The bare word "key" is not listed: storage slot keys are public chain data.
var sensitiveKeywords = []string{
	"password", "passwd", "secret", "token", "auth",
	"credential", "private", "mnemonic",
}

// sensitivePatterns match whole values that are masked regardless of key.
var sensitivePatterns = []*regexp.Regexp{
	// JWT tokens, used by authenticated engine and provider endpoints
	regexp.MustCompile(`^eyJ[A-Za-z0-9_-]*\.eyJ[A-Za-z0-9_-]*\.[A-Za-z0-9_-]*$`),

	// Bearer and basic auth header values
	regexp.MustCompile(`(?i)^bearer\s+.+`),
	regexp.MustCompile(`(?i)^basic\s+[A-Za-z0-9+/=]+$`),

	// Raw secp256k1 private key without 0x prefix. Hashes and slots are
	// always logged 0x-prefixed, so they are not caught.
	regexp.MustCompile(`^[0-9a-fA-F]{64}$`),

	// BIP-39 mnemonic of 12 to 24 words
	regexp.MustCompile(`^([a-z]+\s+){11,23}[a-z]+$`),

	// PEM private keys
	regexp.MustCompile(`(?i)-----BEGIN.*(PRIVATE|SECRET).*KEY-----`),
}

// urlPattern finds http(s) and ws(s) URLs embedded in longer text, such as
// the error messages returned by the RPC client.
var urlPattern = regexp.MustCompile(`(?i)\b(?:https?|wss?)://[^\s"'<>]+`)

// apiKeySegment matches path segments that look like provider API keys.
// Segments without a digit (e.g. "ethereum-mainnet-archive") are kept.
var apiKeySegment = regexp.MustCompile(`^[A-Za-z0-9_-]{20,}$`)

// sensitiveQueryParams are masked in URL query strings.
var sensitiveQueryParams = []string{"apikey", "api_key", "key", "token", "access_token", "secret"}

// MaskValue is the string used to replace sensitive values.
const MaskValue = "***REDACTED***"

// SecureHandler is an slog.Handler that redacts credentials before passing
// records on. Attributes are masked by key name and by value shape, and RPC
// endpoint URLs are rewritten wherever they appear in messages, strings and
// errors, so provider API keys never reach the log.
//
// Design decision: Redaction lives in a handler rather than at call sites
// because:
//  1. go-ethereum errors embed the endpoint URL and are logged as-is
//  2. Any handler (text or JSON) can sit underneath
//  3. Code that only accepts *slog.Logger is covered without changes
type SecureHandler struct {
	next slog.Handler
}

// NewSecureHandler wraps next. A nil next falls back to the default
// logger's handler.
func NewSecureHandler(next slog.Handler) *SecureHandler {
	if next == nil {
		next = slog.Default().Handler()
	}
	return &SecureHandler{next: next}
}

// Enabled implements slog.Handler.
func (h *SecureHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

// Handle implements slog.Handler.
func (h *SecureHandler) Handle(ctx context.Context, r slog.Record) error {
	out := slog.NewRecord(r.Time, r.Level, RedactURLs(r.Message), r.PC)
	r.Attrs(func(a slog.Attr) bool {
		out.AddAttrs(redactAttr(a))
		return true
	})
	return h.next.Handle(ctx, out)
}

// WithAttrs implements slog.Handler.
func (h *SecureHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &SecureHandler{next: h.next.WithAttrs(redactAttrs(attrs))}
}

// WithGroup implements slog.Handler.
func (h *SecureHandler) WithGroup(name string) slog.Handler {
	return &SecureHandler{next: h.next.WithGroup(name)}
}

func redactAttrs(attrs []slog.Attr) []slog.Attr {
	out := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		out[i] = redactAttr(a)
	}
	return out
}

// redactAttr masks one attribute. Groups are walked recursively.
func redactAttr(a slog.Attr) slog.Attr {
	v := a.Value.Resolve()
	if v.Kind() == slog.KindGroup {
		return slog.Attr{Key: a.Key, Value: slog.GroupValue(redactAttrs(v.Group())...)}
	}
	if isSensitiveKey(a.Key) {
		return slog.String(a.Key, MaskValue)
	}

	var text string
	switch v.Kind() {
	case slog.KindString:
		text = v.String()
		if matchesSensitivePattern(text) {
			return slog.String(a.Key, MaskValue)
		}
	case slog.KindAny:
		err, ok := v.Any().(error)
		if !ok || err == nil {
			return slog.Attr{Key: a.Key, Value: v}
		}
		text = err.Error()
	default:
		return slog.Attr{Key: a.Key, Value: v}
	}

	if redacted := RedactURLs(text); redacted != text {
		return slog.String(a.Key, redacted)
	}
	return slog.Attr{Key: a.Key, Value: v}
}

func isSensitiveKey(key string) bool {
	key = strings.ToLower(key)
	if sensitiveKeys[key] {
		return true
	}
	return slices.ContainsFunc(sensitiveKeywords, func(w string) bool {
		return strings.Contains(key, w)
	})
}

func matchesSensitivePattern(value string) bool {
	return slices.ContainsFunc(sensitivePatterns, func(p *regexp.Regexp) bool {
		return p.MatchString(value)
	})
}

// RedactURLs masks credentials in every URL found in s: user info, API-key
// path segments (as used by Infura and Alchemy style endpoints) and
// sensitive query parameters. Text without URLs is returned unchanged.
func RedactURLs(s string) string {
	if !strings.Contains(s, "://") {
		return s
	}
	return urlPattern.ReplaceAllStringFunc(s, RedactURL)
}

// RedactURL masks credentials in a single URL. Unparseable input is returned
// unchanged.
func RedactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}

	changed := false
	if u.User != nil {
		u.User = url.User(MaskValue)
		changed = true
	}

	segments := strings.Split(u.Path, "/")
	for i, seg := range segments {
		if apiKeySegment.MatchString(seg) && strings.ContainsAny(seg, "0123456789") {
			segments[i] = MaskValue
			changed = true
		}
	}
	if changed {
		u.Path = strings.Join(segments, "/")
		u.RawPath = ""
	}

	if u.RawQuery != "" {
		q := u.Query()
		for name := range q {
			for _, p := range sensitiveQueryParams {
				if strings.EqualFold(name, p) {
					q.Set(name, MaskValue)
					changed = true
				}
			}
		}
		if changed {
			u.RawQuery = q.Encode()
		}
	}

	if !changed {
		return raw
	}
	// url.URL escapes the mask; keep it readable.
	return strings.ReplaceAll(u.String(), "%2A%2A%2AREDACTED%2A%2A%2A", MaskValue)
}

// NewSecureLogger returns a text logger behind a SecureHandler. verbose
// enables Debug; otherwise only warnings and errors are written.
func NewSecureLogger(w io.Writer, verbose bool) *slog.Logger {
	return slog.New(NewSecureHandler(slog.NewTextHandler(w, levelOptions(verbose))))
}

// NewSecureJSONLogger is NewSecureLogger with JSON output.
func NewSecureJSONLogger(w io.Writer, verbose bool) *slog.Logger {
	return slog.New(NewSecureHandler(slog.NewJSONHandler(w, levelOptions(verbose))))
}

func levelOptions(verbose bool) *slog.HandlerOptions {
	if verbose {
		return &slog.HandlerOptions{Level: slog.LevelDebug}
	}
	return &slog.HandlerOptions{Level: slog.LevelWarn}
}
