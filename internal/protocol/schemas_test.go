package protocol_test

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"chunkforge.dev/internal/protocol"
)

func TestSchemas_ValidateSamples(t *testing.T) {
	compile := func(name string) *jsonschema.Schema {
		t.Helper()
		p := filepath.Join("..", "..", "configs", "schemas", name)
		s, err := jsonschema.Compile(p)
		if err != nil {
			t.Fatalf("compile %s: %v", name, err)
		}
		return s
	}

	unmarshal := func(raw string) any {
		t.Helper()
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			t.Fatalf("unmarshal sample: %v", err)
		}
		return v
	}

	helloSchema := compile("hello.schema.json")
	editSchema := compile("edit.schema.json")

	if err := helloSchema.Validate(unmarshal(`{
	  "type":"HELLO",
	  "protocol_version":"1.0",
	  "client_name":"browser",
	  "mode":"PLAYER",
	  "capabilities":{"max_queue":64}
	}`)); err != nil {
		t.Fatalf("valid HELLO rejected: %v", err)
	}
	if err := helloSchema.Validate(unmarshal(`{
	  "type":"HELLO",
	  "protocol_version":"1.0"
	}`)); err == nil {
		t.Fatalf("HELLO without client_name accepted")
	}
	if err := helloSchema.Validate(unmarshal(`{
	  "type":"HELLO",
	  "protocol_version":"1.0",
	  "client_name":"x",
	  "mode":"ADMIN"
	}`)); err == nil {
		t.Fatalf("HELLO with unknown mode accepted")
	}

	if err := editSchema.Validate(unmarshal(`{
	  "type":"EDIT",
	  "protocol_version":"1.0",
	  "req_id":"e-1",
	  "action":"PLACE",
	  "pos":[10,25,-4],
	  "block":"STONE"
	}`)); err != nil {
		t.Fatalf("valid EDIT rejected: %v", err)
	}
	if err := editSchema.Validate(unmarshal(`{
	  "type":"EDIT",
	  "protocol_version":"1.0",
	  "action":"CARVE",
	  "pos":[0,0,0]
	}`)); err == nil {
		t.Fatalf("EDIT with unknown action accepted")
	}
	if err := editSchema.Validate(unmarshal(`{
	  "type":"EDIT",
	  "protocol_version":"1.0",
	  "action":"REMOVE",
	  "pos":[1,2]
	}`)); err == nil {
		t.Fatalf("EDIT with short pos accepted")
	}
}

func TestMessageTypesRoundTrip(t *testing.T) {
	edit := protocol.EditMsg{
		Type:            protocol.TypeEdit,
		ProtocolVersion: protocol.Version,
		ReqID:           "e-7",
		Action:          protocol.ActionPlace,
		Pos:             [3]int{5, 30, -2},
		Block:           "OAK_LOG",
	}
	b, err := json.Marshal(edit)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	base, err := protocol.DecodeBase(b)
	if err != nil || base.Type != protocol.TypeEdit {
		t.Fatalf("base decode = %+v, %v", base, err)
	}
	var back protocol.EditMsg
	if err := json.Unmarshal(b, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back != edit {
		t.Fatalf("round trip changed message: %+v", back)
	}
}
