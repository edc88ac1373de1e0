package analyzer

import (
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/goatbytes/consoul/internal/models"
)

// Verdict is the Analyzer's classification of one command string.
type Verdict struct {
	Level          models.RiskLevel
	Reason         string
	MatchedPattern string
}

var systemRoots = []string{"/", "/etc", "/var", "/usr", "/sys", "/boot", "/lib"}

var blockedWritePrefixes = []string{"/etc/", "/var/log/"}

// expandHome resolves a leading "~" the way a shell would, using the
// analyzer process's own home directory as the reference point.
func expandHome(p string) string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return p
	}
	if p == "~" {
		return home
	}
	if strings.HasPrefix(p, "~/") {
		return filepath.Join(home, p[2:])
	}
	return p
}

func isSystemRoot(path string) bool {
	clean := filepath.Clean(expandHome(path))
	for _, root := range systemRoots {
		if clean == root {
			return true
		}
	}
	return false
}

func isBlockedWrite(path string) bool {
	expanded := expandHome(path)
	clean := filepath.Clean(expanded)
	if clean == filepath.Clean(expandHome("~/.ssh/authorized_keys")) {
		return true
	}
	if strings.Contains(expanded, ".ssh/") && strings.HasPrefix(expandHome(path), expandHome("~")) {
		return true
	}
	for _, prefix := range blockedWritePrefixes {
		if strings.HasPrefix(clean+"/", prefix) || strings.HasPrefix(clean, prefix) {
			return true
		}
	}
	// Shell profile files, wherever the user's home resolves to.
	for _, name := range []string{".bashrc", ".zshrc", ".profile", ".bash_profile"} {
		if strings.HasSuffix(clean, "/"+name) || filepath.Base(clean) == name {
			return true
		}
	}
	return false
}

var forkBombPattern = regexp.MustCompile(`:\s*\(\s*\)\s*\{\s*:\s*\|\s*:\s*&?\s*\}\s*;?\s*:`)

var downloadBinaries = map[string]bool{"wget": true, "curl": true}
var shellBinaries = map[string]bool{"bash": true, "sh": true, "zsh": true, "ksh": true}

// AnalyzeCommand classifies a full (possibly multi-segment) shell-style
// command string.
func AnalyzeCommand(cmd string) Verdict {
	trimmed := strings.TrimSpace(cmd)
	if trimmed == "" {
		return Verdict{Level: models.RiskSafe, Reason: "empty command"}
	}

	if forkBombPattern.MatchString(trimmed) {
		return Verdict{Level: models.RiskBlocked, Reason: "fork bomb pattern", MatchedPattern: "fork_bomb"}
	}

	segs := splitSegments(trimmed)
	if len(segs) == 0 {
		return Verdict{Level: models.RiskDangerous, Reason: "unparseable command"}
	}

	best := Verdict{Level: models.RiskSafe, Reason: "no risk indicators found"}
	for i, seg := range segs {
		v := classifySegment(seg.text)
		if v.Level > best.Level {
			best = v
		}
		// download | shell pattern: a download binary piped into a shell.
		if seg.precedingOp == "|" && i > 0 {
			prevToks := tokens(segs[i-1].text)
			curToks := tokens(seg.text)
			if len(prevToks) > 0 && len(curToks) > 0 && downloadBinaries[filepath.Base(prevToks[0])] && shellBinaries[filepath.Base(curToks[0])] {
				return Verdict{Level: models.RiskBlocked, Reason: "download piped into a shell", MatchedPattern: "download_pipe_shell"}
			}
		}
	}
	return best
}

// classifySegment classifies one pipeline segment (no unquoted |, &&,
// ||, ;, & at the top level).
func classifySegment(text string) Verdict {
	toks := tokens(text)
	if len(toks) == 0 {
		return Verdict{Level: models.RiskDangerous, Reason: "unparseable command"}
	}

	base := filepath.Base(toks[0])

	for _, target := range redirectTargets(toks) {
		if isBlockedWrite(target) {
			return Verdict{Level: models.RiskBlocked, Reason: "redirection targets a protected path: " + target, MatchedPattern: target}
		}
	}
	redirects := len(redirectTargets(toks)) > 0

	switch base {
	case "sudo", "doas":
		return Verdict{Level: models.RiskBlocked, Reason: "privilege escalation", MatchedPattern: base}
	case "dd":
		for _, t := range toks[1:] {
			if strings.HasPrefix(t, "if=/dev/") || strings.HasPrefix(t, "of=/dev/") {
				return Verdict{Level: models.RiskBlocked, Reason: "raw device access via dd", MatchedPattern: t}
			}
		}
		return Verdict{Level: models.RiskDangerous, Reason: "dd can overwrite arbitrary data"}
	case "mkfs", "fdisk", "parted", "mkfs.ext4", "mkfs.xfs":
		return Verdict{Level: models.RiskBlocked, Reason: "disk partitioning/formatting tool", MatchedPattern: base}
	case "rm":
		return classifyRm(toks)
	case "chmod":
		return classifyChmod(toks)
	case "kill", "pkill", "killall":
		for _, t := range toks[1:] {
			if t == "-9" || t == "-KILL" || t == "-SIGKILL" {
				return Verdict{Level: models.RiskDangerous, Reason: "SIGKILL to a process"}
			}
		}
		return Verdict{Level: models.RiskCaution, Reason: "signals a process"}
	case "systemctl", "service":
		for _, t := range toks[1:] {
			switch t {
			case "stop", "restart", "disable":
				return Verdict{Level: models.RiskDangerous, Reason: "alters a system service's running state"}
			}
		}
		return Verdict{Level: models.RiskCaution, Reason: "service management"}
	case "git":
		return classifyGit(toks)
	case "ls", "cat", "grep", "find", "whoami", "env", "pwd", "ps", "top", "head", "tail", "echo", "which", "stat", "file":
		if redirects {
			return Verdict{Level: models.RiskCaution, Reason: "redirecting output of an otherwise read-only command"}
		}
		return Verdict{Level: models.RiskSafe, Reason: "read-only inspection"}
	case "cp", "mv", "mkdir", "touch":
		return Verdict{Level: models.RiskCaution, Reason: "single-file mutation"}
	case "apt", "apt-get", "yum", "dnf", "brew", "npm", "pip", "pip3", "go":
		for _, t := range toks[1:] {
			if strings.Contains(t, "sudo") {
				return Verdict{Level: models.RiskBlocked, Reason: "privilege escalation"}
			}
		}
		return Verdict{Level: models.RiskCaution, Reason: "package install/update/uninstall"}
	default:
		if redirects {
			return Verdict{Level: models.RiskCaution, Reason: "redirects output to a file"}
		}
		return Verdict{Level: models.RiskCaution, Reason: "unclassified command, defaulting to caution"}
	}
}

func classifyRm(toks []string) Verdict {
	var flags []string
	var paths []string
	for _, t := range toks[1:] {
		if strings.HasPrefix(t, "-") {
			flags = append(flags, t)
		} else {
			paths = append(paths, t)
		}
	}
	recursive := false
	for _, f := range flags {
		if strings.Contains(f, "r") || strings.Contains(f, "R") {
			recursive = true
		}
	}

	for _, p := range paths {
		if isSystemRoot(p) || strings.HasPrefix(expandHome(p), "/etc") || strings.HasPrefix(expandHome(p), "/var") ||
			strings.HasPrefix(expandHome(p), "/usr") || strings.HasPrefix(expandHome(p), "/sys") ||
			strings.HasPrefix(expandHome(p), "/boot") || strings.HasPrefix(expandHome(p), "/lib") {
			return Verdict{Level: models.RiskBlocked, Reason: "rm targets a system root", MatchedPattern: p}
		}
		if strings.Contains(p, "*") && isRootishWildcard(p) {
			return Verdict{Level: models.RiskBlocked, Reason: "wildcard rooted at a system path", MatchedPattern: p}
		}
	}

	if !recursive && len(flags) == 0 && len(paths) > 0 {
		// "rm SYSTEM_FILE" with no flags at all — already caught above
		// for system roots; a bare single-file rm is CAUTION.
		return Verdict{Level: models.RiskCaution, Reason: "single-file removal"}
	}
	if recursive {
		return Verdict{Level: models.RiskDangerous, Reason: "recursive destructive removal"}
	}
	return Verdict{Level: models.RiskCaution, Reason: "file removal"}
}

func isRootishWildcard(p string) bool {
	dir := filepath.Dir(p)
	return isSystemRoot(dir)
}

func classifyChmod(toks []string) Verdict {
	for _, t := range toks[1:] {
		if strings.HasPrefix(t, "-") {
			continue
		}
		mode := t
		if mode == "777" || mode == "666" {
			if mode == "777" {
				return Verdict{Level: models.RiskDangerous, Reason: "world-writable-and-executable permissions"}
			}
			return Verdict{Level: models.RiskCaution, Reason: "world-writable permissions"}
		}
		if n, err := strconv.Atoi(mode); err == nil && n >= 600 && n <= 799 {
			return Verdict{Level: models.RiskCaution, Reason: "permission change"}
		}
		break
	}
	return Verdict{Level: models.RiskCaution, Reason: "permission change"}
}

func classifyGit(toks []string) Verdict {
	if len(toks) < 2 {
		return Verdict{Level: models.RiskCaution, Reason: "git with no subcommand"}
	}
	sub := toks[1]
	switch sub {
	case "status", "log", "diff", "show", "branch":
		return Verdict{Level: models.RiskSafe, Reason: "read-only git inspection"}
	case "remote":
		if len(toks) >= 3 && toks[2] == "-v" {
			return Verdict{Level: models.RiskSafe, Reason: "read-only git inspection"}
		}
		return Verdict{Level: models.RiskCaution, Reason: "git remote mutation"}
	case "config":
		if contains(toks, "--list") {
			return Verdict{Level: models.RiskSafe, Reason: "read-only git inspection"}
		}
		return Verdict{Level: models.RiskCaution, Reason: "git config mutation"}
	case "add", "commit", "pull", "fetch", "checkout", "stash", "merge":
		return Verdict{Level: models.RiskCaution, Reason: "git working-tree mutation"}
	case "reset":
		if contains(toks, "--hard") {
			return Verdict{Level: models.RiskDangerous, Reason: "git reset --hard discards work"}
		}
		return Verdict{Level: models.RiskCaution, Reason: "git reset"}
	case "clean":
		if contains(toks, "-fdx") || (contains(toks, "-f") && contains(toks, "-d") && contains(toks, "-x")) {
			return Verdict{Level: models.RiskDangerous, Reason: "git clean -fdx deletes untracked files"}
		}
		return Verdict{Level: models.RiskCaution, Reason: "git clean"}
	case "push":
		if contains(toks, "--force") || contains(toks, "-f") {
			return Verdict{Level: models.RiskDangerous, Reason: "git push --force rewrites remote history"}
		}
		return Verdict{Level: models.RiskCaution, Reason: "git push"}
	default:
		return Verdict{Level: models.RiskCaution, Reason: "unrecognized git subcommand"}
	}
}

func contains(toks []string, want string) bool {
	for _, t := range toks {
		if t == want {
			return true
		}
	}
	return false
}
