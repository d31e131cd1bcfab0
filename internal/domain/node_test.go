package domain

import "testing"

func TestFoldStatuses(t *testing.T) {
	cases := []struct {
		name     string
		children []NodeStatus
		want     NodeStatus
	}{
		{"childless is unselected", nil, StatusUnselected},
		{"all selected", []NodeStatus{StatusSelected, StatusSelected}, StatusSelected},
		{"all unselected", []NodeStatus{StatusUnselected, StatusUnselected}, StatusUnselected},
		{"mixed", []NodeStatus{StatusSelected, StatusUnselected}, StatusIndeterminate},
		{"indeterminate child taints", []NodeStatus{StatusSelected, StatusIndeterminate}, StatusIndeterminate},
		{"single selected", []NodeStatus{StatusSelected}, StatusSelected},
	}

	for _, tc := range cases {
		if got := FoldStatuses(tc.children); got != tc.want {
			t.Fatalf("%s: got %s want %s", tc.name, got, tc.want)
		}
	}
}

func TestParseObjectURL(t *testing.T) {
	protocol, bucket, key, err := ParseObjectURL("s3://my-bucket/path/to/object.bam")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if protocol != ProtocolS3 || bucket != "my-bucket" || key != "path/to/object.bam" {
		t.Fatalf("got %s %s %s", protocol, bucket, key)
	}

	for _, bad := range []string{
		"my-bucket/object.bam",
		"s3://my-bucket",
		"s3:///object.bam",
		"ftp://my-bucket/object.bam",
	} {
		if _, _, _, err := ParseObjectURL(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}

func TestCodingSetSemantics(t *testing.T) {
	mondo := Coding{System: "mondo", Code: "0008678"}

	list := AddCoding(nil, mondo)
	list = AddCoding(list, mondo)
	if len(list) != 1 {
		t.Fatalf("duplicate add should be a no-op, got %d entries", len(list))
	}

	list = RemoveCoding(list, Coding{System: "mondo", Code: "absent"})
	if len(list) != 1 {
		t.Fatalf("removing an absent coding should be a no-op, got %d entries", len(list))
	}

	list = RemoveCoding(list, mondo)
	if len(list) != 0 {
		t.Fatalf("expected empty list after remove, got %d entries", len(list))
	}
}

func TestReleaseAllowFlags(t *testing.T) {
	r := Release{AllowedReadData: true, AllowedS3Data: true}

	if !r.AllowsArtifactType(ArtifactBam) {
		t.Fatalf("BAM should be allowed as read data")
	}
	if r.AllowsArtifactType(ArtifactVcf) {
		t.Fatalf("VCF should be excluded while variant data is off")
	}
	if !r.AllowsProtocol(ProtocolS3) {
		t.Fatalf("s3 should be allowed")
	}
	if r.AllowsProtocol(ProtocolGS) {
		t.Fatalf("gs should be excluded")
	}
	if r.AllowsProtocol(Protocol("ftp")) {
		t.Fatalf("unknown protocol must never be allowed")
	}
}
