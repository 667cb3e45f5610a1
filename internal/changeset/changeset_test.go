package changeset

import (
	"reflect"
	"strings"
	"testing"
	"testing/fstest"
)

const samplePatch = `From 61f5cd90bed4d204ee3feb3aa41ee91d4734855b Mon Sep 17 00:00:00 2001
From: Morton Haypenny <mhaypenny@example.com>
Date: Sat, 11 Apr 2020 15:21:23 -0700
Subject: [PATCH] hotfix: bound the name copy

The old copy overflowed on long names.
---
 src/name.c  | 3 ++-
 src/new.c   | 4 ++++
 docs/README | 1 +
 old.c       | 1 -
 4 files changed

diff --git a/src/name.c b/src/name.c
index abc1234..def5678 100644
--- a/src/name.c
+++ b/src/name.c
@@ -1,5 +1,6 @@
 #include <string.h>

 void copy_name(char *dst, const char *src) {
-    strcpy(dst, src);
+    strncpy(dst, src, 15);
+    dst[15] = '\0';
 }
diff --git a/src/new.c b/src/new.c
new file mode 100644
index 0000000..e69de29
--- /dev/null
+++ b/src/new.c
@@ -0,0 +1,4 @@
+int answer(void)
+{
+    return 42;
+}
diff --git a/docs/README b/docs/README
index 1111111..2222222 100644
--- a/docs/README
+++ b/docs/README
@@ -1 +1,2 @@
 # Project
+More words
diff --git a/old.c b/old.c
deleted file mode 100644
index 3333333..0000000
--- a/old.c
+++ /dev/null
@@ -1 +0,0 @@
-int gone;
`

const nameAfter = `#include <string.h>

void copy_name(char *dst, const char *src) {
    strncpy(dst, src, 15);
    dst[15] = '\0';
}
`

func TestFromPatch(t *testing.T) {
	root := fstest.MapFS{"src/name.c": {Data: []byte(nameAfter)}}

	set, err := FromPatch(strings.NewReader(samplePatch), root)
	if err != nil {
		t.Fatalf("FromPatch failed: %v", err)
	}

	if set.Commit != "61f5cd90bed4d204ee3feb3aa41ee91d4734855b" {
		t.Errorf("unexpected commit %q", set.Commit)
	}
	if !strings.HasPrefix(set.Message, "hotfix: bound the name copy") {
		t.Errorf("unexpected message %q", set.Message)
	}

	if len(set.Files) != 2 {
		t.Fatalf("expected 2 files, got %d", len(set.Files))
	}

	name, ok := set.File("src/name.c")
	if !ok {
		t.Fatal("src/name.c missing")
	}
	if name.Source != nameAfter {
		t.Errorf("expected post-image from root, got %q", name.Source)
	}
	if name.Language != "c" {
		t.Errorf("expected language c, got %q", name.Language)
	}
	if !reflect.DeepEqual(name.Changed, []int{4, 5}) {
		t.Errorf("expected changed lines [4 5], got %v", name.Changed)
	}
	if !name.Touches(4) || name.Touches(3) || !name.Touches(0) {
		t.Error("Touches does not follow the changed lines")
	}

	created, ok := set.File("src/new.c")
	if !ok {
		t.Fatal("src/new.c missing")
	}
	if !created.IsNew {
		t.Error("expected src/new.c to be new")
	}
	if created.Source != "int answer(void)\n{\n    return 42;\n}\n" {
		t.Errorf("new file not rebuilt from the patch: %q", created.Source)
	}

	want := []Ignored{
		{Path: "docs/README", Reason: "not a C source file"},
		{Path: "old.c", Reason: "deleted"},
	}
	if !reflect.DeepEqual(set.Ignored, want) {
		t.Errorf("unexpected ignored files: %+v", set.Ignored)
	}

	files, added, deleted := set.Stats()
	if files != 2 || added != 6 || deleted != 1 {
		t.Errorf("stats: got %d files, %d added, %d deleted", files, added, deleted)
	}

	inputs := set.Inputs()
	if len(inputs) != 2 || inputs[0].Revision != set.Commit {
		t.Errorf("unexpected inputs %+v", inputs)
	}
}

func TestFromPatchWithoutPostImage(t *testing.T) {
	set, err := FromPatch(strings.NewReader(samplePatch), nil)
	if err != nil {
		t.Fatalf("FromPatch failed: %v", err)
	}
	if len(set.Files) != 1 || set.Files[0].Path != "src/new.c" {
		t.Fatalf("expected only the new file, got %+v", set.Files)
	}
	found := false
	for _, ig := range set.Ignored {
		if ig.Path == "src/name.c" && ig.Reason == errNoPostImage.Error() {
			found = true
		}
	}
	if !found {
		t.Errorf("expected src/name.c to be ignored, got %+v", set.Ignored)
	}
}

func TestFromPatchEmpty(t *testing.T) {
	set, err := FromPatch(strings.NewReader(""), nil)
	if err != nil {
		t.Fatalf("FromPatch empty failed: %v", err)
	}
	if len(set.Files) != 0 || set.Commit != "" {
		t.Errorf("expected empty set, got %+v", set)
	}
}

func TestFromPaths(t *testing.T) {
	fsys := fstest.MapFS{
		"src/a.c":          {Data: []byte("int a;\n")},
		"src/a.h":          {Data: []byte("extern int a;\n")},
		"src/notes.txt":    {Data: []byte("notes\n")},
		"src/.cache/gen.c": {Data: []byte("int gen;\n")},
		"main.c":           {Data: []byte("int main(void) { return 0; }\n")},
		"Makefile":         {Data: []byte("all:\n")},
	}

	set, err := FromPaths(fsys, []string{"src", "./main.c", "Makefile", "src/a.c"})
	if err != nil {
		t.Fatalf("FromPaths failed: %v", err)
	}

	var paths []string
	for _, f := range set.Files {
		paths = append(paths, f.Path)
	}
	if !reflect.DeepEqual(paths, []string{"src/a.c", "src/a.h", "main.c"}) {
		t.Errorf("unexpected files %v", paths)
	}
	if len(set.Ignored) != 1 || set.Ignored[0].Path != "Makefile" {
		t.Errorf("unexpected ignored %+v", set.Ignored)
	}
	if set.Files[0].Changed != nil || !set.Files[0].Touches(1) {
		t.Error("files loaded without a patch touch every line")
	}

	if _, err := FromPaths(fsys, []string{"missing.c"}); err == nil {
		t.Error("expected an error for a missing path")
	}
}

func TestDetectLanguage(t *testing.T) {
	tests := map[string]string{
		"src/uart.c":     "c",
		"include/uart.h": "c",
		"main.go":        "go",
		"unknown.xyz123": "",
		"":               "",
	}
	for file, want := range tests {
		if got := DetectLanguage(file); got != want {
			t.Errorf("DetectLanguage(%q) = %q, want %q", file, got, want)
		}
	}
}
