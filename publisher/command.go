package publisher

import (
	"encoding/base64"
	"net/http"
	"regexp"
	"strings"

	"auto_blog_publisher/payload"
)

// Command is the request descriptor recovered from an operator-supplied
// curl invocation. It is recomputed on every use and never stored.
type Command struct {
	Method  string
	URL     string
	Headers map[string]string
	// Body is the parsed JSON body template; nil when the command had no
	// body or the body was not a JSON object.
	Body payload.Object
	// ExplicitMethod reports whether the command named a method itself.
	ExplicitMethod bool
}

// Configured reports whether a target URL was found.
func (c Command) Configured() bool {
	return c.URL != ""
}

// Header looks a header up case-insensitively.
func (c Command) Header(name string) (string, bool) {
	for k, v := range c.Headers {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return "", false
}

// Token is one shell word of a command. Quoted is set when any part of
// the word came from a quoted section.
type Token struct {
	Text   string
	Quoted bool
}

var (
	lineContinuation = regexp.MustCompile(`\\[ \t]*\r?\n`)
	whitespaceRun    = regexp.MustCompile(`\s+`)
	bareWord         = regexp.MustCompile(`^[A-Za-z]+$`)
)

// ParseCommand converts a raw curl invocation into a Command. It never
// fails: anything it cannot recognise falls back to its default (POST,
// no headers, no body template, empty URL).
func ParseCommand(raw string) Command {
	return Interpret(Tokenize(raw))
}

// Tokenize normalizes line continuations and whitespace runs, then splits
// the text into shell words honouring single quotes, double quotes and
// backslash escapes. An unterminated quote runs to the end of the input.
func Tokenize(raw string) []Token {
	s := lineContinuation.ReplaceAllString(raw, " ")
	s = strings.TrimSpace(whitespaceRun.ReplaceAllString(s, " "))

	var (
		tokens []Token
		cur    strings.Builder
		inTok  bool
		quoted bool
	)
	flush := func() {
		if inTok {
			tokens = append(tokens, Token{Text: cur.String(), Quoted: quoted})
		}
		cur.Reset()
		inTok, quoted = false, false
	}

	runes := []rune(s)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case r == ' ':
			flush()
		case r == '\'':
			inTok, quoted = true, true
			j := i + 1
			for ; j < len(runes) && runes[j] != '\''; j++ {
				cur.WriteRune(runes[j])
			}
			i = j
		case r == '"':
			inTok, quoted = true, true
			j := i + 1
			for ; j < len(runes) && runes[j] != '"'; j++ {
				if runes[j] == '\\' && j+1 < len(runes) && strings.ContainsRune("\"\\$`", runes[j+1]) {
					j++
				}
				cur.WriteRune(runes[j])
			}
			i = j
		case r == '\\' && i+1 < len(runes):
			inTok = true
			i++
			cur.WriteRune(runes[i])
		default:
			inTok = true
			cur.WriteRune(r)
		}
	}
	flush()
	return tokens
}

var bodyFlags = map[string]bool{
	"-d":            true,
	"--data":        true,
	"--data-raw":    true,
	"--data-binary": true,
	"--data-ascii":  true,
	"--json":        true,
}

// valueFlags take an argument that must not be mistaken for the URL.
var valueFlags = map[string]bool{
	"-o":                true,
	"--output":          true,
	"-x":                true,
	"--proxy":           true,
	"-m":                true,
	"--max-time":        true,
	"--connect-timeout": true,
	"--retry":           true,
	"-w":                true,
	"--write-out":       true,
	"-F":                true,
	"--form":            true,
	"-T":                true,
	"--upload-file":     true,
	"--cacert":          true,
	"--cert":            true,
	"--key":             true,
}

// Interpret maps a token stream onto a Command.
func Interpret(tokens []Token) Command {
	cmd := Command{Method: http.MethodPost, Headers: map[string]string{}}
	bodySeen := false
	jsonFlag := false

	for i := 0; i < len(tokens); i++ {
		tok := tokens[i]
		name, value, inline := splitFlag(tok.Text)
		// A quoted word is a flag only when it carries its value inline,
		// as in --data-raw='{...}'.
		if !strings.HasPrefix(tok.Text, "-") || (tok.Quoted && !inline) {
			if cmd.URL == "" && isURL(tok.Text) {
				cmd.URL = trimQuotes(tok.Text)
			}
			continue
		}

		next := func() (string, bool) {
			if inline {
				return value, true
			}
			if i+1 >= len(tokens) {
				return "", false
			}
			i++
			return tokens[i].Text, true
		}

		switch {
		case name == "-X" || name == "--request":
			if v, ok := next(); ok && bareWord.MatchString(v) {
				cmd.Method = strings.ToUpper(v)
				cmd.ExplicitMethod = true
			}
		case name == "-H" || name == "--header":
			if v, ok := next(); ok {
				addHeader(cmd.Headers, v)
			}
		case name == "-u" || name == "--user":
			if v, ok := next(); ok && v != "" {
				cmd.Headers["Authorization"] = "Basic " + base64.StdEncoding.EncodeToString([]byte(v))
			}
		case name == "-A" || name == "--user-agent":
			if v, ok := next(); ok {
				cmd.Headers["User-Agent"] = v
			}
		case name == "-e" || name == "--referer":
			if v, ok := next(); ok {
				cmd.Headers["Referer"] = v
			}
		case name == "--url":
			if v, ok := next(); ok && cmd.URL == "" && isURL(v) {
				cmd.URL = trimQuotes(v)
			}
		case bodyFlags[name]:
			v, ok := next()
			if !ok || bodySeen {
				continue
			}
			bodySeen = true
			if name == "--json" {
				jsonFlag = true
			}
			if obj, err := payload.Parse([]byte(v)); err == nil {
				cmd.Body = obj
			}
		case valueFlags[name]:
			next()
		}
	}

	if jsonFlag {
		if _, ok := cmd.Header("Content-Type"); !ok {
			cmd.Headers["Content-Type"] = "application/json"
		}
		if _, ok := cmd.Header("Accept"); !ok {
			cmd.Headers["Accept"] = "application/json"
		}
	}
	return cmd
}

// splitFlag separates inline flag values: "--request=PUT" and "-XPUT".
func splitFlag(text string) (name, value string, inline bool) {
	if strings.HasPrefix(text, "--") {
		if idx := strings.Index(text, "="); idx > 2 {
			return text[:idx], text[idx+1:], true
		}
		return text, "", false
	}
	if strings.HasPrefix(text, "-X") && len(text) > 2 {
		return "-X", text[2:], true
	}
	return text, "", false
}

func addHeader(headers map[string]string, raw string) {
	idx := strings.Index(raw, ":")
	if idx == -1 {
		return
	}
	key := strings.TrimSpace(raw[:idx])
	if key == "" {
		return
	}
	headers[key] = strings.TrimSpace(raw[idx+1:])
}

func isURL(s string) bool {
	s = strings.ToLower(trimQuotes(s))
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

func trimQuotes(s string) string {
	return strings.Trim(s, `'"`)
}
