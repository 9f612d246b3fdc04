// Copyright © 2025 Openmux contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"path/filepath"
	"testing"
	"time"
)

func TestCreateListRename(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "sessions.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	now := time.Unix(1700000000, 0)
	if err := s.Create("id-1", "work", false, now); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.Create("id-2", "scratch", true, now.Add(time.Second)); err != nil {
		t.Fatalf("create: %v", err)
	}

	list, err := s.List()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(list))
	}
	if list[0].Name != "scratch" {
		t.Fatalf("expected most-recently-switched first, got %q", list[0].Name)
	}

	if err := s.Rename("id-1", "renamed"); err != nil {
		t.Fatalf("rename: %v", err)
	}
	entry, ok, err := s.ByID("id-1")
	if err != nil || !ok {
		t.Fatalf("by id: %v ok=%v", err, ok)
	}
	if entry.Name != "renamed" || entry.AutoNamed {
		t.Fatalf("expected renamed entry to clear auto_named, got %+v", entry)
	}
}

func TestDeleteUnknownReturnsNotFound(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "sessions.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	if err := s.Delete("nope"); err == nil {
		t.Fatalf("expected an error deleting an unknown session")
	}
}

func TestByNameMissingReturnsNotOk(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "sessions.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	_, ok, err := s.ByName("ghost")
	if err != nil {
		t.Fatalf("by name: %v", err)
	}
	if ok {
		t.Fatalf("expected ok=false for an unknown name")
	}
}
