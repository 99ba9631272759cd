package domain

import "testing"

func TestRoleFromLabel(t *testing.T) {
	t.Parallel()

	cases := map[string]Role{
		"医師":        RoleClinician,
		" Doctor ":  RoleClinician,
		"clinician": RoleClinician,
		"患者":        RolePatient,
		"patient":   RolePatient,
		"":          RolePatient,
	}
	for label, want := range cases {
		if got := RoleFromLabel(label); got != want {
			t.Fatalf("label %q: expected %s, got %s", label, want, got)
		}
	}
}

func TestCredentialsKeyTrimsAndHandlesNil(t *testing.T) {
	t.Parallel()

	var empty Credentials
	if empty.Has(ProviderGemini) {
		t.Fatalf("nil credentials should have no keys")
	}

	creds := Credentials{ProviderGemini: "  AIza-test  ", ProviderOpenAI: "   "}
	if got := creds.Key(ProviderGemini); got != "AIza-test" {
		t.Fatalf("unexpected key: %q", got)
	}
	if creds.Has(ProviderOpenAI) {
		t.Fatalf("blank key should not count")
	}
}
