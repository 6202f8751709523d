package retrieval

import (
	"context"
	"fmt"
	"strings"

	"github.com/indiseek/indiseek/internal/apperr"
)

const (
	// readExpandThreshold triggers expansion of micro-reads.
	readExpandThreshold = 100
	// readExpandTo is the expanded window height.
	readExpandTo = 150
	// readMaxLines caps any single read.
	readMaxLines = 500
)

// ReadFile returns the numbered lines of an indexed file. Requests under
// 100 lines are widened to a 150-line window centered on the request so
// the caller sees surrounding context; reads are capped at 500 lines.
// Only the stored content is consulted, never the working tree.
func (s *Service) ReadFile(ctx context.Context, repoID int64, filePath string, start, end int) (string, error) {
	content, err := s.summaries.GetFileContent(ctx, repoID, filePath)
	if apperr.IsNotFound(err) {
		return "", apperr.NotFound("file %s is not indexed", filePath)
	}
	if err != nil {
		return "", err
	}

	lines := strings.Split(content.Content(), "\n")
	total := len(lines)

	if start <= 0 {
		start = 1
	}
	if end <= 0 || end > total {
		end = total
	}
	if start > end {
		return "", apperr.BadRequest("start %d is past end %d", start, end)
	}

	start, end = expandWindow(start, end, total)

	var b strings.Builder
	fmt.Fprintf(&b, "%s (lines %d-%d of %d)\n", filePath, start, end, total)
	for i := start; i <= end; i++ {
		fmt.Fprintf(&b, "%5d | %s\n", i, lines[i-1])
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

// expandWindow widens requests below the threshold to the expanded height
// centered on the request midpoint, clamped to line 1, then applies the
// hard cap.
func expandWindow(start, end, total int) (int, int) {
	span := end - start + 1
	if span < readExpandThreshold {
		mid := (start + end) / 2
		start = mid - readExpandTo/2
		if start < 1 {
			start = 1
		}
		end = start + readExpandTo - 1
	}
	if end-start+1 > readMaxLines {
		end = start + readMaxLines - 1
	}
	if end > total {
		end = total
	}
	return start, end
}
