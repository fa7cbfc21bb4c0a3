package maintenance

import "testing"

func TestValidPartitionName_Valid(t *testing.T) {
	for _, name := range []string{"views_20250115", "view_prefixes_20250115", "view_peers_20250115"} {
		if !validPartitionName.MatchString(name) {
			t.Errorf("expected %q to match validPartitionName regex", name)
		}
	}
}

func TestValidPartitionName_Invalid(t *testing.T) {
	invalid := []string{
		"views_abc",
		"other_table_20250115",
		"views_2025011",
		"",
	}
	for _, name := range invalid {
		if validPartitionName.MatchString(name) {
			t.Errorf("expected %q to NOT match validPartitionName regex", name)
		}
	}
}

func TestValidPartitionName_InjectionAttempt(t *testing.T) {
	name := "views_20250115; DROP TABLE x"
	if validPartitionName.MatchString(name) {
		t.Errorf("expected %q to NOT match validPartitionName regex (SQL injection attempt)", name)
	}
}
