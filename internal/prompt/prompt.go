// Package prompt asks the operator which document to process and whether to
// adjust levels.
package prompt

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/feichai0017/searchable-pdf/internal/models"
)

// ErrNoDocuments means the input directory holds no PDFs.
var ErrNoDocuments = errors.New("no PDF documents found")

type Prompter struct {
	in  *bufio.Reader
	out io.Writer
}

func New(in io.Reader, out io.Writer) *Prompter {
	return &Prompter{in: bufio.NewReader(in), out: out}
}

// ListDocuments returns the PDFs directly inside dir, sorted by name.
func ListDocuments(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read input directory: %w", err)
	}
	var docs []string
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".pdf") {
			continue
		}
		docs = append(docs, filepath.Join(dir, e.Name()))
	}
	sort.Strings(docs)
	return docs, nil
}

// readLine returns the next trimmed line. A final line without a newline is
// still returned; io.EOF only comes back when nothing was read.
func (p *Prompter) readLine() (string, error) {
	line, err := p.in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// SelectDocument lists the PDFs in dir and asks for one by number. A single
// document is still confirmed by number.
func (p *Prompter) SelectDocument(dir string) (string, error) {
	docs, err := ListDocuments(dir)
	if err != nil {
		return "", err
	}
	if len(docs) == 0 {
		return "", fmt.Errorf("%w in %s", ErrNoDocuments, dir)
	}

	fmt.Fprintf(p.out, "Documents in %s:\n", dir)
	for i, d := range docs {
		fmt.Fprintf(p.out, "  %d) %s\n", i+1, filepath.Base(d))
	}
	for {
		fmt.Fprintf(p.out, "Select a document [1-%d]: ", len(docs))
		line, err := p.readLine()
		if err != nil {
			return "", fmt.Errorf("no document selected: %w", err)
		}
		n, err := strconv.Atoi(line)
		if err == nil && n >= 1 && n <= len(docs) {
			return docs[n-1], nil
		}
		fmt.Fprintf(p.out, "Please enter a number between 1 and %d.\n", len(docs))
	}
}

// AskLevels asks whether to apply a levels adjustment, offering def as the
// suggested points. It returns nil when the operator declines.
func (p *Prompter) AskLevels(def models.Levels) (*models.Levels, error) {
	yes, err := p.confirm("Apply a levels adjustment to every page?", false)
	if err != nil || !yes {
		return nil, err
	}
	for {
		black, err := p.askPercent("Black point %", def.BlackPoint)
		if err != nil {
			return nil, err
		}
		white, err := p.askPercent("White point %", def.WhitePoint)
		if err != nil {
			return nil, err
		}
		levels, err := models.NewLevels(black, white)
		if err == nil {
			return levels, nil
		}
		fmt.Fprintf(p.out, "%v\n", err)
	}
}

func (p *Prompter) confirm(question string, def bool) (bool, error) {
	hint := "y/N"
	if def {
		hint = "Y/n"
	}
	for {
		fmt.Fprintf(p.out, "%s [%s]: ", question, hint)
		line, err := p.readLine()
		if err != nil {
			return false, fmt.Errorf("no answer: %w", err)
		}
		switch strings.ToLower(line) {
		case "":
			return def, nil
		case "y", "yes":
			return true, nil
		case "n", "no":
			return false, nil
		}
		fmt.Fprintln(p.out, "Please answer y or n.")
	}
}

func (p *Prompter) askPercent(label string, def float64) (float64, error) {
	for {
		fmt.Fprintf(p.out, "%s [%s]: ", label, strconv.FormatFloat(def, 'f', -1, 64))
		line, err := p.readLine()
		if err != nil {
			return 0, fmt.Errorf("no answer: %w", err)
		}
		if line == "" {
			return def, nil
		}
		v, err := strconv.ParseFloat(strings.TrimSuffix(line, "%"), 64)
		if err == nil && v >= 0 && v <= 100 {
			return v, nil
		}
		fmt.Fprintln(p.out, "Please enter a percentage between 0 and 100.")
	}
}
