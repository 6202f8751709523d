package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/indiseek/indiseek/domain/summary"
	"github.com/indiseek/indiseek/domain/task"
	"github.com/indiseek/indiseek/infrastructure/parser"
	"github.com/indiseek/indiseek/infrastructure/provider"
	"github.com/indiseek/indiseek/internal/apperr"
)

const (
	// summaryMaxConsecutiveFailures aborts the stage; a single flaky file
	// should not, a provider that keeps failing should.
	summaryMaxConsecutiveFailures = 5

	// fileSummaryMaxChars truncates oversized files before sending them
	// out. A summary prompt does not need the whole file.
	fileSummaryMaxChars = 8000

	fileSummaryInstruction = "You summarize source code. Reply with one sentence describing " +
		"what this file does. No preamble, no code fences."

	dirSummaryInstruction = "You summarize code directories. Given one-line summaries of a " +
		"directory's files and subdirectories, reply with one or two sentences describing " +
		"the directory's role. No preamble, no code fences."
)

// Summarize generates the missing file summaries, then directory summaries
// bottom-up so each directory prompt can include its children's summaries.
// Calls are paced by the configured delay.
func (p *Pipeline) Summarize(ctx context.Context, repoID int64, progress Progress) (map[string]int, error) {
	counts := map[string]int{"files": 0, "dirs": 0, "skipped": 0, "errors": 0}

	generator, err := p.deps.NewGenerator()
	if err != nil {
		return counts, err
	}

	if err := p.summarizeFiles(ctx, repoID, generator, progress, counts); err != nil {
		return counts, err
	}
	if err := p.summarizeDirectories(ctx, repoID, generator, progress, counts); err != nil {
		return counts, err
	}

	p.logger.Info("summarize stage finished", "repo_id", repoID,
		"files", counts["files"], "dirs", counts["dirs"],
		"skipped", counts["skipped"], "errors", counts["errors"])
	return counts, nil
}

func (p *Pipeline) summarizeFiles(ctx context.Context, repoID int64, generator provider.Generator, progress Progress, counts map[string]int) error {
	allPaths, err := p.deps.Summaries.ListFilePaths(ctx, repoID)
	if err != nil {
		return err
	}
	existing, err := p.deps.Summaries.ListFileSummaries(ctx, repoID)
	if err != nil {
		return err
	}
	summarized := make(map[string]bool, len(existing))
	for _, s := range existing {
		summarized[s.FilePath()] = true
	}

	var pending []string
	for _, fp := range allPaths {
		if summarized[fp] {
			counts["skipped"]++
			continue
		}
		pending = append(pending, fp)
	}
	sort.Strings(pending)

	consecutiveFailures := 0
	for i, fp := range pending {
		progress.emit(task.Progress(StageSummarize, i+1, len(pending), fp))

		content, err := p.deps.Summaries.GetFileContent(ctx, repoID, fp)
		if err != nil {
			counts["errors"]++
			continue
		}
		payload := truncateAtRune(content.Content(), fileSummaryMaxChars)

		text, _, err := generator.Generate(ctx, fileSummaryInstruction, fp+"\n\n"+payload)
		if err != nil {
			if abortErr := summaryFailure(err, &consecutiveFailures); abortErr != nil {
				return abortErr
			}
			p.logger.Warn("file summary failed", "path", fp, "error", err)
			counts["errors"]++
			continue
		}
		consecutiveFailures = 0

		s := summary.NewFileSummary(repoID, fp, strings.TrimSpace(text),
			parser.LanguageFor(fp), content.LineCount())
		if err := p.deps.Summaries.UpsertFileSummary(ctx, s); err != nil {
			return err
		}
		counts["files"]++

		if err := p.pause(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pipeline) summarizeDirectories(ctx context.Context, repoID int64, generator provider.Generator, progress Progress, counts map[string]int) error {
	fileSummaries, err := p.deps.Summaries.ListFileSummaries(ctx, repoID)
	if err != nil {
		return err
	}
	existing, err := p.deps.Summaries.ListDirectorySummaries(ctx, repoID)
	if err != nil {
		return err
	}
	dirSummaries := make(map[string]string, len(existing))
	for _, d := range existing {
		dirSummaries[d.DirPath()] = d.Summary()
	}

	consecutiveFailures := 0
	dirs := directoriesDeepestFirst(fileSummaries)
	for i, dir := range dirs {
		progress.emit(task.Progress(StageSummarize, i+1, len(dirs), dir))

		if _, ok := dirSummaries[dir]; ok {
			counts["skipped"]++
			continue
		}

		payload := dirPayload(dir, fileSummaries, dirSummaries)
		if payload == "" {
			continue
		}

		text, _, err := generator.Generate(ctx, dirSummaryInstruction, dir+"\n\n"+payload)
		if err != nil {
			if abortErr := summaryFailure(err, &consecutiveFailures); abortErr != nil {
				return abortErr
			}
			p.logger.Warn("directory summary failed", "dir", dir, "error", err)
			counts["errors"]++
			continue
		}
		consecutiveFailures = 0

		text = strings.TrimSpace(text)
		if err := p.deps.Summaries.UpsertDirectorySummary(ctx, summary.NewDirectorySummary(repoID, dir, text)); err != nil {
			return err
		}
		dirSummaries[dir] = text
		counts["dirs"]++

		if err := p.pause(ctx); err != nil {
			return err
		}
	}
	return nil
}

// truncateAtRune caps s at max bytes without splitting a UTF-8 rune.
func truncateAtRune(s string, max int) string {
	if len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max]
}

// summaryFailure decides whether a generation error ends the stage.
func summaryFailure(err error, consecutiveFailures *int) error {
	if errors.Is(err, apperr.ErrProviderAuth) {
		return fmt.Errorf("summarization aborted: %w", err)
	}
	*consecutiveFailures++
	if *consecutiveFailures >= summaryMaxConsecutiveFailures {
		return fmt.Errorf("summarization aborted after %d consecutive failures: %w",
			*consecutiveFailures, err)
	}
	return nil
}

// pause waits the configured delay between provider calls.
func (p *Pipeline) pause(ctx context.Context) error {
	delay := p.deps.Config.SummaryDelay()
	if delay <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(delay):
		return nil
	}
}

// directoriesDeepestFirst returns every ancestor directory of the
// summarized files, deepest first, so children are summarized before their
// parents.
func directoriesDeepestFirst(files []summary.FileSummary) []string {
	seen := make(map[string]bool)
	for _, f := range files {
		for dir := path.Dir(f.FilePath()); dir != "." && dir != "/"; dir = path.Dir(dir) {
			seen[dir] = true
		}
	}
	dirs := make([]string, 0, len(seen))
	for dir := range seen {
		dirs = append(dirs, dir)
	}
	sort.Slice(dirs, func(i, j int) bool {
		di, dj := strings.Count(dirs[i], "/"), strings.Count(dirs[j], "/")
		if di != dj {
			return di > dj
		}
		return dirs[i] < dirs[j]
	})
	return dirs
}

// dirPayload builds the prompt body for one directory from its direct
// children: file summaries plus already-generated subdirectory summaries.
func dirPayload(dir string, files []summary.FileSummary, dirSummaries map[string]string) string {
	var lines []string
	for _, f := range files {
		if path.Dir(f.FilePath()) == dir {
			lines = append(lines, path.Base(f.FilePath())+": "+f.Summary())
		}
	}
	for sub, text := range dirSummaries {
		if path.Dir(sub) == dir {
			lines = append(lines, path.Base(sub)+"/: "+text)
		}
	}
	sort.Strings(lines)
	return strings.Join(lines, "\n")
}
