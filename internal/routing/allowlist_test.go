package routing

import "testing"

const testAllowlistYAML = `
version: 1
entrypoints:
  server:
    routes:
      - path: /health
        methods: [GET]
        route_class: ops
      - path: /leadrouting/api/rules
        methods: [GET, POST]
        route_class: internal_api
      - path: /leadrouting/api/rules/{rule_id}
        methods: [DELETE]
        route_class: internal_api
`

func TestParseAllowlistYAML(t *testing.T) {
	a, err := ParseAllowlistYAML([]byte(testAllowlistYAML))
	if err != nil {
		t.Fatal(err)
	}
	if got := len(a.Entrypoints["server"].Routes); got != 3 {
		t.Fatalf("routes=%d", got)
	}
	if !a.Allows("server", "/leadrouting/api/rules/{rule_id}", "DELETE") {
		t.Fatal("expected pattern route allowed")
	}
	if a.Allows("server", "/leadrouting/api/rules", "DELETE") {
		t.Fatal("unexpected allow")
	}
	if a.Allows("missing", "/health", "GET") {
		t.Fatal("unexpected allow for missing entrypoint")
	}
}

func TestParseAllowlistYAML_Errors(t *testing.T) {
	cases := map[string]string{
		"bad yaml":    "version: [",
		"bad version": "version: 2\nentrypoints: {}\n",
		"missing":     "version: 1\n",
		"lower method": `
version: 1
entrypoints:
  server:
    routes:
      - path: /health
        methods: [get]
        route_class: ops
`,
		"unknown class": `
version: 1
entrypoints:
  server:
    routes:
      - path: /webhooks/crm
        methods: [POST]
        route_class: webhook
`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := ParseAllowlistYAML([]byte(raw)); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestLoadAllowlist_MissingFile(t *testing.T) {
	if _, err := LoadAllowlist(t.TempDir() + "/nope.yaml"); err == nil {
		t.Fatal("expected error")
	}
}
