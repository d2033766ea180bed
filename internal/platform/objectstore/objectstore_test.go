package objectstore

import "testing"

func TestConfigValidate(t *testing.T) {
	valid := Config{
		Endpoint:  "storage.googleapis.com",
		AccessKey: "a",
		SecretKey: "b",
		Region:    "auto",
		UseSSL:    true,
		Scheme:    SchemeGCS,
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("Validate() err=%v", err)
	}

	invalid := valid
	invalid.Endpoint = "https://storage.googleapis.com"
	if err := invalid.Validate(); err == nil {
		t.Fatalf("Validate() expected error for scheme in endpoint")
	}

	invalid = valid
	invalid.Scheme = "ftp"
	if err := invalid.Validate(); err == nil {
		t.Fatalf("Validate() expected error for unsupported scheme")
	}
}

func TestParseURI(t *testing.T) {
	tests := []struct {
		raw     string
		want    Location
		wantErr bool
	}{
		{raw: "gs://bucket/train_pipeline/run/", want: Location{Scheme: "gs", Bucket: "bucket", Key: "train_pipeline/run"}},
		{raw: "s3://models", want: Location{Scheme: "s3", Bucket: "models"}},
		{raw: "bucket/key", wantErr: true},
		{raw: "gs:///key", wantErr: true},
		{raw: "http://bucket/key", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseURI(tt.raw)
		if tt.wantErr {
			if err == nil {
				t.Fatalf("%s: expected error", tt.raw)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%s: %v", tt.raw, err)
		}
		if got != tt.want {
			t.Fatalf("%s: expected %+v, got %+v", tt.raw, tt.want, got)
		}
	}
}

func TestLocationJoin(t *testing.T) {
	loc := Location{Scheme: "gs", Bucket: "bucket", Key: "train_pipeline/run"}
	got := loc.Join("templates", "/abc.json").String()
	if got != "gs://bucket/train_pipeline/run/templates/abc.json" {
		t.Fatalf("unexpected uri %q", got)
	}
	if (Location{Scheme: "s3", Bucket: "b"}).String() != "s3://b/" {
		t.Fatalf("unexpected bucket uri")
	}
}
