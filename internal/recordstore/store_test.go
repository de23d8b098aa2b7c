package recordstore

import "testing"

func TestPutGetDeleteRoundtrip(t *testing.T) {
	s, err := New(t.TempDir(), '!')
	if err != nil {
		t.Fatal(err)
	}

	rec := Record{Name: "sdX", Symlinks: []string{"disk/by-id/foo"}, Major: 8, Minor: 16}
	if err := s.Put("/block/sda", "sda", rec); err != nil {
		t.Fatal(err)
	}

	got, ok, err := s.Get("/block/sda")
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if got.Name != "sdX" || len(got.Symlinks) != 1 || got.Symlinks[0] != "disk/by-id/foo" {
		t.Errorf("got %+v", got)
	}

	if err := s.Delete("/block/sda"); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := s.Get("/block/sda"); ok {
		t.Error("expected record gone after delete")
	}

	// idempotent delete
	if err := s.Delete("/block/sda"); err != nil {
		t.Errorf("second delete should be a no-op, got %v", err)
	}
}

func TestPutOmitsUninterestingRecord(t *testing.T) {
	s, err := New(t.TempDir(), '!')
	if err != nil {
		t.Fatal(err)
	}
	// Name equals kernel name, no symlinks/env/partitions/ignore-remove:
	// nothing interesting, so Put should be equivalent to Delete.
	if err := s.Put("/block/sda", "sda", Record{Name: "sda"}); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := s.Get("/block/sda"); ok {
		t.Error("expected no record written for an uninteresting resolution")
	}
}

func TestFindByName(t *testing.T) {
	s, err := New(t.TempDir(), '!')
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Put("/block/sda", "sda", Record{Name: "sdX", Symlinks: []string{"disk/by-id/cam"}}); err != nil {
		t.Fatal(err)
	}

	dp, ok, err := s.FindByName("sdX")
	if err != nil || !ok || dp != "/block/sda" {
		t.Fatalf("FindByName(sdX) = %q, %v, %v", dp, ok, err)
	}

	dp, ok, err = s.FindByName("disk/by-id/cam")
	if err != nil || !ok || dp != "/block/sda" {
		t.Fatalf("FindByName(symlink) = %q, %v, %v", dp, ok, err)
	}

	if _, ok, _ := s.FindByName("nope"); ok {
		t.Error("expected no match for unknown name")
	}
}

func TestScan(t *testing.T) {
	s, err := New(t.TempDir(), '!')
	if err != nil {
		t.Fatal(err)
	}
	s.Put("/block/sda", "sda", Record{Name: "sdX"})
	s.Put("/block/sdb", "sdb", Record{Name: "sdY"})

	seen := map[string]string{}
	if err := s.Scan(func(devpath, name string) error {
		seen[devpath] = name
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	if seen["/block/sda"] != "sdX" || seen["/block/sdb"] != "sdY" {
		t.Errorf("scan result = %+v", seen)
	}
}

func TestNameTakenForFreeNumberExpansion(t *testing.T) {
	s, err := New(t.TempDir(), '!')
	if err != nil {
		t.Fatal(err)
	}
	s.Put("/video/cam0", "video0", Record{Name: "cam"})
	s.Put("/video/cam1", "video1", Record{Name: "cam1"})

	if !s.NameTaken("cam") || !s.NameTaken("cam1") {
		t.Error("expected cam and cam1 to be taken")
	}
	if s.NameTaken("cam2") {
		t.Error("expected cam2 to be free")
	}
}
