// Package classifier decides whether an input line is a shell command or a
// natural-language request.
package classifier

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/doeshing/shai-remote/internal/domain"
	"github.com/doeshing/shai-remote/internal/ports"
)

const (
	// ForceCommandPrefix makes the rest of the line a command.
	ForceCommandPrefix = "!"
	// ForceNaturalLanguagePrefix makes the rest of the line a query.
	ForceNaturalLanguagePrefix = "?"
)

var knownExecutables = toSet(
	"ls", "cd", "pwd", "cat", "less", "more", "head", "tail", "grep", "egrep", "rg", "find", "fd",
	"awk", "sed", "cut", "sort", "uniq", "wc", "tr", "xargs", "tee", "echo", "printf", "touch",
	"mkdir", "rmdir", "rm", "cp", "mv", "ln", "chmod", "chown", "chgrp", "stat", "file", "du", "df",
	"free", "top", "htop", "ps", "pgrep", "pkill", "kill", "killall", "uptime", "uname", "whoami",
	"id", "hostname", "date", "env", "export", "unset", "source", "which", "whereis", "type", "man",
	"tar", "gzip", "gunzip", "zip", "unzip", "xz", "curl", "wget", "ssh", "scp", "rsync", "ping",
	"dig", "nslookup", "ip", "ifconfig", "netstat", "ss", "lsof", "systemctl", "journalctl",
	"service", "sudo", "su", "apt", "apt-get", "yum", "dnf", "apk", "brew", "pip", "pip3", "npm",
	"yarn", "pnpm", "node", "python", "python3", "go", "cargo", "make", "git", "docker", "kubectl",
	"helm", "terraform", "vim", "vi", "nano", "crontab", "mount", "umount", "lsblk", "history",
	"clear", "exit", "tmux", "screen", "nohup", "watch", "time", "diff", "jq", "openssl", "sh",
	"bash", "zsh",
)

// subcommandTools take a verb as their first argument, so plain words
// after them are still command-shaped.
var subcommandTools = toSet(
	"git", "docker", "kubectl", "helm", "systemctl", "service", "journalctl", "apt", "apt-get",
	"yum", "dnf", "apk", "brew", "pip", "pip3", "npm", "yarn", "pnpm", "go", "cargo", "make",
	"terraform", "tmux", "screen", "crontab", "ip",
)

var interrogatives = toSet(
	"how", "what", "why", "where", "which", "who", "whom", "whose", "when",
	"can", "could", "would", "should", "is", "are", "does", "do", "did", "will", "shall",
	"please", "help", "explain", "tell", "show", "give", "i", "i'm", "im", "my", "we", "let's",
)

var stopwords = toSet(
	"the", "a", "an", "all", "any", "some", "my", "me", "this", "that", "these", "those",
	"in", "on", "of", "for", "to", "from", "with", "without", "into", "over", "under", "than",
	"and", "or", "but", "is", "are", "be", "it", "its", "which", "who", "what", "how", "not",
	"larger", "bigger", "older", "newer", "files", "everything", "using", "about",
)

// Classifier is stateless; executables reported by the remote context probe
// extend the built-in list per call.
type Classifier struct{}

// New returns a classifier with the built-in executable list.
func New() *Classifier {
	return &Classifier{}
}

// Classify is pure and deterministic. It never fails: unclear input degrades
// to naturalLanguage, since running ambiguous text is the worse mistake.
func (c *Classifier) Classify(input string, ctx domain.ContextSnapshot) domain.Classification {
	text := strings.TrimSpace(input)
	if text == "" {
		return nl(0, "empty input")
	}

	switch {
	case strings.HasPrefix(text, ForceCommandPrefix):
		return cmd(1, "forced command prefix")
	case strings.HasPrefix(text, ForceNaturalLanguagePrefix):
		return nl(1, "forced natural-language prefix")
	}

	tokens := strings.Fields(text)
	first := tokens[0]
	lowerFirst := strings.ToLower(first)

	// (a) syntactic command markers
	if hasPathPrefix(first) {
		return cmd(0.95, fmt.Sprintf("path prefix on %q", first))
	}
	if isEnvAssignment(first) {
		return cmd(0.9, fmt.Sprintf("environment assignment %q", first))
	}
	if c.isExecutable(first, ctx) && c.hasArgumentEvidence(lowerFirst, tokens[1:], ctx) {
		return cmd(0.9, fmt.Sprintf("known executable %q", first))
	}
	if op, ok := shellOperator(text); ok && !isInterrogative(lowerFirst) {
		return cmd(0.8, fmt.Sprintf("shell operator %q", op))
	}

	// (b) natural-language markers
	if strings.HasSuffix(text, "?") {
		return nl(0.9, "ends with question mark")
	}
	if isInterrogative(lowerFirst) {
		return nl(0.85, fmt.Sprintf("interrogative opener %q", lowerFirst))
	}

	// (c) fallback score
	cmdScore, nlScore := score(tokens)
	if cmdScore > nlScore {
		return cmd(confidence(cmdScore, nlScore), fmt.Sprintf("heuristic score command=%d natural=%d", cmdScore, nlScore))
	}
	return nl(confidence(nlScore, cmdScore), fmt.Sprintf("heuristic score command=%d natural=%d", cmdScore, nlScore))
}

// StripOverride removes a leading force prefix so the remainder can be run or sent.
func StripOverride(input string) string {
	text := strings.TrimSpace(input)
	switch {
	case strings.HasPrefix(text, ForceCommandPrefix):
		return strings.TrimSpace(text[len(ForceCommandPrefix):])
	case strings.HasPrefix(text, ForceNaturalLanguagePrefix):
		return strings.TrimSpace(text[len(ForceNaturalLanguagePrefix):])
	}
	return text
}

// Strip is StripOverride as a method.
func (c *Classifier) Strip(input string) string {
	return StripOverride(input)
}

func (c *Classifier) isExecutable(token string, ctx domain.ContextSnapshot) bool {
	name := strings.ToLower(token)
	if _, ok := knownExecutables[name]; ok {
		return true
	}
	for _, tool := range ctx.AvailableTools {
		if strings.EqualFold(tool, name) {
			return true
		}
	}
	return false
}

func hasPathPrefix(token string) bool {
	for _, prefix := range []string{"/", "./", "../", "~/"} {
		if strings.HasPrefix(token, prefix) {
			return true
		}
	}
	return false
}

func isEnvAssignment(token string) bool {
	eq := strings.IndexByte(token, '=')
	if eq <= 0 {
		return false
	}
	for i, r := range token[:eq] {
		if r == '_' || unicode.IsUpper(r) || (i > 0 && unicode.IsDigit(r)) {
			continue
		}
		return false
	}
	return true
}

func shellOperator(text string) (string, bool) {
	for _, op := range []string{"&&", "||", "|", ";", ">>", "2>", ">", "<", "$(", "`"} {
		if strings.Contains(text, op) {
			return op, true
		}
	}
	return "", false
}

func hasCommandSyntax(args []string) bool {
	for _, arg := range args {
		switch {
		case strings.HasPrefix(arg, "-"):
			return true
		case hasPathPrefix(arg), strings.Contains(arg, "/"):
			return true
		case strings.ContainsAny(arg, "=*$|&;<>"):
			return true
		}
	}
	return false
}

// hasArgumentEvidence reports whether the words after a known executable
// read as arguments. Without positive evidence the line goes to scoring,
// so "free up disk space" is not run.
func (c *Classifier) hasArgumentEvidence(first string, args []string, ctx domain.ContextSnapshot) bool {
	switch {
	case len(args) == 0:
		return true
	case hasCommandSyntax(args):
		return true
	case looksLikeProse(args):
		return false
	case len(args) == 1:
		_, stop := stopwords[strings.ToLower(args[0])]
		return !stop
	}
	if _, ok := subcommandTools[first]; ok {
		return true
	}
	for _, arg := range args {
		if c.isExecutable(arg, ctx) || isNumeric(arg) || isFileLike(arg) {
			return true
		}
	}
	return false
}

func isNumeric(tok string) bool {
	for _, r := range tok {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return tok != ""
}

// isFileLike matches names such as app.log or example.com.
func isFileLike(tok string) bool {
	dot := strings.LastIndexByte(tok, '.')
	return dot > 0 && dot < len(tok)-1
}

// looksLikeProse flags argument lists such as "large files in my home".
func looksLikeProse(args []string) bool {
	if len(args) < 2 {
		return false
	}
	hits := 0
	for _, arg := range args {
		if _, ok := stopwords[strings.ToLower(arg)]; ok {
			hits++
		}
	}
	return hits > 0
}

func isInterrogative(word string) bool {
	_, ok := interrogatives[strings.TrimRight(word, ",")]
	return ok
}

func score(tokens []string) (int, int) {
	cmdScore, nlScore := 0, 0
	for _, tok := range tokens {
		lower := strings.ToLower(tok)
		switch {
		case strings.HasPrefix(tok, "-"):
			cmdScore += 2
		case strings.Contains(tok, "/"), strings.ContainsAny(tok, "=*$~"):
			cmdScore++
		}
		if _, ok := stopwords[lower]; ok {
			nlScore++
		}
		if isWord(tok) && len(tok) > 2 {
			nlScore++
		}
	}
	if len(tokens) >= 5 {
		nlScore++
	}
	return cmdScore, nlScore
}

func isWord(tok string) bool {
	for _, r := range tok {
		if !unicode.IsLetter(r) && r != '\'' && r != ',' && r != '.' {
			return false
		}
	}
	return true
}

func confidence(winner, loser int) float64 {
	total := winner + loser
	if total == 0 {
		return 0.5
	}
	c := 0.5 + 0.4*float64(winner-loser)/float64(total)
	if c > 0.8 {
		c = 0.8
	}
	return c
}

func cmd(conf float64, reason string) domain.Classification {
	return domain.Classification{Type: domain.InputCommand, Confidence: conf, Reason: reason}
}

func nl(conf float64, reason string) domain.Classification {
	return domain.Classification{Type: domain.InputNaturalLanguage, Confidence: conf, Reason: reason}
}

func toSet(values ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}

var _ ports.IntentClassifier = (*Classifier)(nil)
