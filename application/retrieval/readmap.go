package retrieval

import (
	"context"
	"sort"
	"strings"
)

// ReadMap renders the indexed tree as a plain-text outline annotated with
// file and directory summaries. A non-empty scope restricts the outline to
// that subtree.
func (s *Service) ReadMap(ctx context.Context, repoID int64, scope string) (string, error) {
	filePaths, err := s.summaries.ListFilePaths(ctx, repoID)
	if err != nil {
		return "", err
	}

	fileSummaries := make(map[string]string)
	if listed, err := s.summaries.ListFileSummaries(ctx, repoID); err == nil {
		for _, fs := range listed {
			fileSummaries[fs.FilePath()] = fs.Summary()
		}
	}
	dirSummaries := make(map[string]string)
	if listed, err := s.summaries.ListDirectorySummaries(ctx, repoID); err == nil {
		for _, ds := range listed {
			dirSummaries[ds.DirPath()] = ds.Summary()
		}
	}

	scope = strings.Trim(scope, "/")
	root := newTreeNode()
	matched := 0
	for _, fp := range filePaths {
		if !underFilter(fp, scope) {
			continue
		}
		rel := fp
		if scope != "" {
			rel = strings.TrimPrefix(fp, scope+"/")
		}
		root.insert(strings.Split(rel, "/"))
		matched++
	}
	if matched == 0 {
		if scope != "" {
			return "no indexed files under " + scope, nil
		}
		return "no indexed files", nil
	}

	var b strings.Builder
	indent := ""
	if scope != "" {
		b.WriteString(scope + "/")
		if s := dirSummaries[scope]; s != "" {
			b.WriteString(" — " + s)
		}
		b.WriteString("\n")
		indent = "  "
	}
	root.render(&b, scope, indent, fileSummaries, dirSummaries)
	return strings.TrimRight(b.String(), "\n"), nil
}

type treeNode struct {
	children map[string]*treeNode
	isFile   bool
}

func newTreeNode() *treeNode {
	return &treeNode{children: make(map[string]*treeNode)}
}

func (n *treeNode) insert(parts []string) {
	if len(parts) == 0 {
		return
	}
	child, ok := n.children[parts[0]]
	if !ok {
		child = newTreeNode()
		n.children[parts[0]] = child
	}
	if len(parts) == 1 {
		child.isFile = true
		return
	}
	child.insert(parts[1:])
}

// render walks directories before files, each group alphabetical. prefix
// is the repo-relative path of this node, used for summary lookups.
func (n *treeNode) render(b *strings.Builder, prefix, indent string, fileSummaries, dirSummaries map[string]string) {
	names := make([]string, 0, len(n.children))
	for name := range n.children {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		di, dj := !n.children[names[i]].isFile, !n.children[names[j]].isFile
		if di != dj {
			return di
		}
		return names[i] < names[j]
	})

	for _, name := range names {
		child := n.children[name]
		full := name
		if prefix != "" {
			full = prefix + "/" + name
		}
		if child.isFile {
			b.WriteString(indent + name)
			if s := fileSummaries[full]; s != "" {
				b.WriteString(" — " + s)
			}
			b.WriteString("\n")
			continue
		}
		b.WriteString(indent + name + "/")
		if s := dirSummaries[full]; s != "" {
			b.WriteString(" — " + s)
		}
		b.WriteString("\n")
		child.render(b, full, indent+"  ", fileSummaries, dirSummaries)
	}
}

func underFilter(rel, scope string) bool {
	if scope == "" {
		return true
	}
	return rel == scope || strings.HasPrefix(rel, scope+"/")
}
