package creds

import "testing"

func TestCredentials_Origin(t *testing.T) {
	tests := []struct {
		loginURL string
		want     string
		wantErr  bool
	}{
		{"https://portal.example.net/login", "https://portal.example.net", false},
		{"http://10.0.0.1:8080/auth?next=/", "http://10.0.0.1:8080", false},
		{"HTTPS://Portal.Example.NET/login", "https://portal.example.net", false},
		{"/login", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.loginURL, func(t *testing.T) {
			got, err := Credentials{LoginURL: tt.loginURL}.Origin()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Origin() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("Origin() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCredentials_Clone(t *testing.T) {
	orig := Credentials{
		LoginURL:    "https://portal.example.net/login",
		Username:    "guest",
		Password:    "guest",
		ExtraFields: map[string]string{"zone": "lobby"},
	}

	clone := orig.Clone()
	clone.ExtraFields["zone"] = "lounge"

	if orig.ExtraFields["zone"] != "lobby" {
		t.Error("Clone should deep-copy ExtraFields")
	}
}

func TestCredentials_Validate(t *testing.T) {
	tests := []struct {
		name    string
		creds   Credentials
		wantErr bool
	}{
		{"complete", Credentials{LoginURL: "https://p.example.net/l", Username: "u", Password: "p"}, false},
		{"password only", Credentials{LoginURL: "https://p.example.net/l", Password: "p"}, false},
		{"no url", Credentials{Username: "u", Password: "p"}, true},
		{"relative url", Credentials{LoginURL: "/login", Username: "u"}, true},
		{"no secret", Credentials{LoginURL: "https://p.example.net/l"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.creds.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSameOrigin(t *testing.T) {
	if !SameOrigin("https://p.example.net/a", "https://p.example.net/b?x=1") {
		t.Error("same host paths should share origin")
	}
	if SameOrigin("https://p.example.net/a", "http://p.example.net/a") {
		t.Error("different schemes should not share origin")
	}
	if SameOrigin("https://p.example.net/a", "https://p.example.net:8443/a") {
		t.Error("different ports should not share origin")
	}
	if SameOrigin("::bad::", "https://p.example.net") {
		t.Error("unparseable URL should never match")
	}
}
