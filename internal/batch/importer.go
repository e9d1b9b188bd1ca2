// Package batch imports many exported course files in one run
package batch

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/gmsas95/asit/internal/course"
)

// Decoder reads one export file into a new course
type Decoder interface {
	ReadFile(path string) (*course.Course, error)
}

// Sink stores an imported course
type Sink interface {
	ImportCourse(ctx context.Context, c *course.Course) (*course.Course, error)
}

type Config struct {
	MaxConcurrency int
	// SkipInvalid stores the files that decode and reports the rest. When false a
	// single bad file aborts the run before anything is stored.
	SkipInvalid bool
}

func DefaultConfig() Config {
	return Config{
		MaxConcurrency: 4,
		SkipInvalid:    true,
	}
}

// Item is the outcome for one file
type Item struct {
	Path      string `json:"path"`
	CourseID  string `json:"courseId,omitempty"`
	Intakes   int    `json:"intakes"`
	Reminders int    `json:"reminders"`
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
}

type Result struct {
	Total     int           `json:"total"`
	Success   int           `json:"success"`
	Failed    int           `json:"failed"`
	Duration  time.Duration `json:"duration"`
	Items     []Item        `json:"items"`
	StartTime time.Time     `json:"startTime"`
	EndTime   time.Time     `json:"endTime"`
}

type Importer struct {
	decoder Decoder
	sink    Sink
	config  Config
	logger  *zap.Logger
}

func NewImporter(dec Decoder, sink Sink, cfg Config, logger *zap.Logger) *Importer {
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Importer{
		decoder: dec,
		sink:    sink,
		config:  cfg,
		logger:  logger,
	}
}

type decoded struct {
	path   string
	course *course.Course
	err    error
}

// ImportFiles decodes paths concurrently and stores the courses one at a time in path order
func (im *Importer) ImportFiles(ctx context.Context, paths []string) (*Result, error) {
	result := &Result{
		Total:     len(paths),
		StartTime: time.Now(),
		Items:     make([]Item, 0, len(paths)),
	}

	pathsChan := make(chan string, len(paths))
	decodedChan := make(chan decoded, len(paths))

	var wg sync.WaitGroup
	for i := 0; i < im.config.MaxConcurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			im.worker(ctx, pathsChan, decodedChan)
		}()
	}

	for _, p := range paths {
		pathsChan <- p
	}
	close(pathsChan)

	go func() {
		wg.Wait()
		close(decodedChan)
	}()

	files := make([]decoded, 0, len(paths))
	for d := range decodedChan {
		files = append(files, d)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].path < files[j].path })

	if !im.config.SkipInvalid {
		for _, d := range files {
			if d.err != nil {
				return nil, fmt.Errorf("%s: %w", d.path, d.err)
			}
		}
	}

	for _, d := range files {
		item := Item{Path: d.path}
		err := d.err
		if err == nil {
			var added *course.Course
			added, err = im.sink.ImportCourse(ctx, d.course)
			if err == nil {
				item.CourseID = added.ID
				item.Intakes = len(added.Intakes)
				item.Reminders = len(added.Reminders)
			}
		}

		if err != nil {
			item.Error = err.Error()
			result.Failed++
			im.logger.Warn("Import failed", zap.String("path", d.path), zap.Error(err))
		} else {
			item.Success = true
			result.Success++
		}
		result.Items = append(result.Items, item)
	}

	result.EndTime = time.Now()
	result.Duration = result.EndTime.Sub(result.StartTime)

	im.logger.Info("Batch import finished",
		zap.Int("total", result.Total),
		zap.Int("success", result.Success),
		zap.Int("failed", result.Failed),
		zap.Duration("duration", result.Duration))
	return result, nil
}

func (im *Importer) worker(ctx context.Context, paths <-chan string, out chan<- decoded) {
	for p := range paths {
		if err := ctx.Err(); err != nil {
			out <- decoded{path: p, err: err}
			continue
		}
		c, err := im.decoder.ReadFile(p)
		out <- decoded{path: p, course: c, err: err}
	}
}

// CollectFiles expands directories into the .json files they contain. Files are kept as given.
func CollectFiles(args []string) ([]string, error) {
	var files []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			files = append(files, arg)
			continue
		}

		entries, err := os.ReadDir(arg)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".json") {
				continue
			}
			files = append(files, filepath.Join(arg, e.Name()))
		}
	}
	return files, nil
}

func (r *Result) Summary() string {
	var sb strings.Builder
	sb.WriteString("=== Import Summary ===\n")
	sb.WriteString(fmt.Sprintf("Total:     %d\n", r.Total))
	sb.WriteString(fmt.Sprintf("Success:   %d\n", r.Success))
	sb.WriteString(fmt.Sprintf("Failed:    %d\n", r.Failed))
	sb.WriteString(fmt.Sprintf("Duration:  %v\n", r.Duration))
	return sb.String()
}

func (r *Result) ToJSON() (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
