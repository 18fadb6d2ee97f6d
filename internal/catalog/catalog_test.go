package catalog

import "testing"

const sampleJSON = `{
	"lastModified": "2024-01-01 00:00:00",
	"controls": {
		"0f0a4eb5-01c3-4cd7-ffff403fb0c34b9e": {
			"name": "Kitchen Light",
			"type": "Switch",
			"uuidAction": "0f0a4eb5-01c3-4cd7-ffff403fb0c34b9e",
			"room": "10a45cd2-0113-2eb5-ffff403fb0c34b9e",
			"cat": "20a45cd2-0113-2eb5-ffff403fb0c34b9e"
		}
	},
	"rooms": {
		"10a45cd2-0113-2eb5-ffff403fb0c34b9e": {"name": "Kitchen", "uuid": "10a45cd2-0113-2eb5-ffff403fb0c34b9e"}
	},
	"cats": {
		"20a45cd2-0113-2eb5-ffff403fb0c34b9e": {"name": "Lights", "type": "lights", "uuid": "20a45cd2-0113-2eb5-ffff403fb0c34b9e"}
	},
	"globalStates": {
		"sunrise": "30a45cd2-0113-2eb5-ffff403fb0c34b9e"
	}
}`

func TestParseCatalog(t *testing.T) {
	cat, err := Parse([]byte(sampleJSON))
	if err != nil {
		t.Fatal(err)
	}
	if len(cat.Controls) != 1 {
		t.Fatalf("got %d controls", len(cat.Controls))
	}

	id, err := ParseUUID("0f0a4eb5-01c3-4cd7-ffff403fb0c34b9e")
	if err != nil {
		t.Fatal(err)
	}
	ctrl, ok := cat.Controls[id]
	if !ok {
		t.Fatal("expected control to be indexed by its uuid")
	}
	if ctrl.Name != "Kitchen Light" {
		t.Errorf("got %q", ctrl.Name)
	}

	if got := cat.RoomName(ctrl); got != "Kitchen" {
		t.Errorf("RoomName() = %q, want Kitchen", got)
	}
	if got := cat.CategoryName(ctrl); got != "Lights" {
		t.Errorf("CategoryName() = %q, want Lights", got)
	}
}

func TestLookup(t *testing.T) {
	cat, err := Parse([]byte(sampleJSON))
	if err != nil {
		t.Fatal(err)
	}
	id, err := ParseUUID("0f0a4eb5-01c3-4cd7-ffff403fb0c34b9e")
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := cat.Lookup(id); !ok {
		t.Fatal("expected lookup to find the control")
	}
	if _, ok := cat.Lookup(id); !ok {
		t.Fatal("lookup should be idempotent")
	}

	unknown, _ := ParseUUID("ffffffff-ffff-ffff-ffffffffffffffff")
	if _, ok := cat.Lookup(unknown); ok {
		t.Fatal("expected lookup miss for unknown uuid")
	}
}

func TestParseUUIDRoundTrip(t *testing.T) {
	const s = "0f0a4eb5-01c3-4cd7-ffff403fb0c34b9e"
	id, err := ParseUUID(s)
	if err != nil {
		t.Fatal(err)
	}
	if got := FormatUUID(id); got != s {
		t.Errorf("FormatUUID() = %q, want %q", got, s)
	}
	if got := id.String(); got != "0f0a4eb501c34cd7ffff403fb0c34b9e" {
		t.Errorf("id.String() = %q", got)
	}
}

func TestParseUUIDInvalid(t *testing.T) {
	if _, err := ParseUUID("not-a-uuid"); err == nil {
		t.Fatal("expected error")
	}
}

func TestParseCatalogBadUUID(t *testing.T) {
	bad := `{"controls":{"not-a-uuid":{"name":"x"}}}`
	if _, err := Parse([]byte(bad)); err == nil {
		t.Fatal("expected error for malformed control uuid")
	}
}
