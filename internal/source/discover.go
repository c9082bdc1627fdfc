package source

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar"
	"github.com/sirupsen/logrus"

	"github.com/vitebski/softdelete-gen/internal/emitter"
	"github.com/vitebski/softdelete-gen/pkg/models"
)

const ident = "[\\[`\"]?([\\w$#@]+)[\\]`\"]?"

var (
	createRe = regexp.MustCompile(`(?i)\bCREATE\s+(?:OR\s+(?:ALTER|REPLACE)\s+)?(?:DEFINER\s*=\s*\S+\s+)?` +
		`(TRIGGER|VIEW|PROCEDURE|PROC)\s+(?:IF\s+NOT\s+EXISTS\s+)?(?:` + ident + `\.)?` + ident)
	onRe           = regexp.MustCompile(`(?i)^[\s\S]{0,120}?\bON\s+(?:` + ident + `\.)?` + ident)
	lineCommentRe  = regexp.MustCompile(`(?m)--.*$`)
	blockCommentRe = regexp.MustCompile(`(?s)/\*.*?\*/`)
)

// Scanner discovers the triggers, views and procedures declared in the .sql files under Root
type Scanner struct {
	Root string
	// GeneratedDirs are the output directories. A marked file inside one is a previous run's output.
	GeneratedDirs []string
	// Exclude holds doublestar patterns, relative to Root, of files to ignore.
	Exclude []string
	Logger  *logrus.Logger
}

// NewScanner creates a scanner over a source tree
func NewScanner(root string, generatedDirs, exclude []string, logger *logrus.Logger) *Scanner {
	return &Scanner{Root: root, GeneratedDirs: generatedDirs, Exclude: exclude, Logger: logger}
}

// ScanDeclarations returns every declaration found, ordered by file and position
func (s *Scanner) ScanDeclarations() ([]models.Declaration, error) {
	files, err := doublestar.Glob(filepath.Join(s.Root, "**", "*.sql"))
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", s.Root, err)
	}
	sort.Strings(files)

	var declarations []models.Declaration
	for _, path := range files {
		skip, err := s.excluded(path)
		if err != nil {
			return nil, err
		}
		if skip {
			s.Logger.Debugf("Excluded %s", path)
			continue
		}

		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}

		generated := s.inGeneratedDir(path) && emitter.HasMarker(content)
		found := ParseDeclarations(string(content))
		for i := range found {
			found[i].SourcePath = path
			found[i].IsGeneratedLocation = generated
		}
		declarations = append(declarations, found...)
	}

	s.Logger.Infof("Discovered %d existing declarations in %d files under %s", len(declarations), len(files), s.Root)
	return declarations, nil
}

// ParseDeclarations finds the CREATE TRIGGER, VIEW and PROCEDURE statements of a SQL text.
// Comments are ignored.
func ParseDeclarations(sql string) []models.Declaration {
	sql = blockCommentRe.ReplaceAllString(sql, "")
	sql = lineCommentRe.ReplaceAllString(sql, "")

	var out []models.Declaration
	for _, m := range createRe.FindAllStringSubmatchIndex(sql, -1) {
		kind := strings.ToUpper(sql[m[2]:m[3]])
		d := models.Declaration{Name: sql[m[6]:m[7]]}
		if m[4] >= 0 {
			d.Schema = sql[m[4]:m[5]]
		}
		if kind == "TRIGGER" {
			if on := onRe.FindStringSubmatch(sql[m[1]:]); on != nil {
				d.TargetTable = on[2]
			}
		}
		out = append(out, d)
	}
	return out
}

func (s *Scanner) excluded(path string) (bool, error) {
	rel, err := filepath.Rel(s.Root, path)
	if err != nil {
		return false, nil
	}
	rel = filepath.ToSlash(rel)
	for _, pattern := range s.Exclude {
		ok, err := doublestar.Match(pattern, rel)
		if err != nil {
			return false, fmt.Errorf("invalid exclude pattern %q: %w", pattern, err)
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

func (s *Scanner) inGeneratedDir(path string) bool {
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	for _, dir := range s.GeneratedDirs {
		d, err := filepath.Abs(dir)
		if err != nil {
			continue
		}
		if abs == d || strings.HasPrefix(abs, d+string(filepath.Separator)) {
			return true
		}
	}
	return false
}
