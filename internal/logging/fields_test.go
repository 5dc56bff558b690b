package logging

import "testing"

func TestBatchFieldsMarksKind(t *testing.T) {
	if got := BatchFields("site-v1", true)["batch"]; got != "essential" {
		t.Fatalf("必需批次应标记为 essential，得到 %v", got)
	}
	if got := BatchFields("images-v1", false)["batch"]; got != "preload" {
		t.Fatalf("预加载批次应标记为 preload，得到 %v", got)
	}
}

func TestRequestFieldsCarriesCacheHit(t *testing.T) {
	fields := RequestFields("GET", "http://origin.local/", "site-v1", true)
	if fields["cache_hit"] != true || fields["generation"] != "site-v1" {
		t.Fatalf("字段缺失: %v", fields)
	}
}
