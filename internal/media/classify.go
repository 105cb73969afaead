// Package media classifies camera files by extension, scans device trees
// for them and names their copies at the destination.
package media

import (
	"path/filepath"
	"sort"
	"strings"

	"github.com/zangezia/SDIngest/pkg/models"
)

// ExtensionSet is a set of lower-cased extensions including the leading dot
type ExtensionSet map[string]struct{}

// NewExtensionSet normalizes the given extensions into a set
func NewExtensionSet(exts ...string) ExtensionSet {
	set := make(ExtensionSet, len(exts))
	for _, ext := range exts {
		if n := NormalizeExt(ext); n != "" {
			set[n] = struct{}{}
		}
	}
	return set
}

// Contains reports whether ext (any case, with or without dot) is in the set
func (s ExtensionSet) Contains(ext string) bool {
	_, ok := s[NormalizeExt(ext)]
	return ok
}

// Sorted returns the extensions in lexical order
func (s ExtensionSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for ext := range s {
		out = append(out, ext)
	}
	sort.Strings(out)
	return out
}

// NormalizeExt lower-cases ext and makes sure it starts with a dot
func NormalizeExt(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext == "" || ext == "." {
		return ""
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}

// Classifier maps extensions to media categories
type Classifier struct {
	byExt map[string]models.MediaCategory
	sets  map[models.MediaCategory]ExtensionSet
}

// NewClassifier builds a classifier from the configured extension lists.
// An extension listed in more than one set belongs to the first of
// image, video, audio.
func NewClassifier(image, video, audio []string) *Classifier {
	c := &Classifier{
		byExt: make(map[string]models.MediaCategory),
		sets: map[models.MediaCategory]ExtensionSet{
			models.CategoryImage: NewExtensionSet(image...),
			models.CategoryVideo: NewExtensionSet(video...),
			models.CategoryAudio: NewExtensionSet(audio...),
		},
	}

	for _, cat := range models.MediaCategories {
		for ext := range c.sets[cat] {
			if _, taken := c.byExt[ext]; !taken {
				c.byExt[ext] = cat
			}
		}
	}

	return c
}

// Classify returns the category of an extension, case-insensitively
func (c *Classifier) Classify(ext string) models.MediaCategory {
	if cat, ok := c.byExt[NormalizeExt(ext)]; ok {
		return cat
	}
	return models.CategoryIgnored
}

// ClassifyPath classifies a file by the extension of its name
func (c *Classifier) ClassifyPath(path string) models.MediaCategory {
	return c.Classify(filepath.Ext(path))
}

// Extensions returns the configured set for a category
func (c *Classifier) Extensions(cat models.MediaCategory) ExtensionSet {
	return c.sets[cat]
}
