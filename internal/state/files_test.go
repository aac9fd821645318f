package state

import "testing"

func TestDiffFiles_DisjointWritesNoOverlap(t *testing.T) {
	shared := Files{
		"/a.txt": {Content: []string{"a"}},
		"/b.txt": {Content: []string{"b"}},
	}

	// Two concurrent executions each rewrite a disjoint path.
	postA := Files{"/a.txt": {Content: []string{"a2"}}, "/b.txt": shared["/b.txt"]}
	postB := Files{"/a.txt": shared["/a.txt"], "/b.txt": {Content: []string{"b2"}}}

	diffA := DiffFiles(shared, postA)
	diffB := DiffFiles(shared, postB)

	if _, ok := diffA["/a.txt"]; !ok || len(diffA) != 1 {
		t.Fatalf("diffA should contain only /a.txt, got %v", diffA)
	}
	if _, ok := diffB["/b.txt"]; !ok || len(diffB) != 1 {
		t.Fatalf("diffB should contain only /b.txt, got %v", diffB)
	}

	// Applying both diffs in either order yields the same final state.
	orderAB := MergeFiles(MergeFiles(shared, diffA), diffB)
	orderBA := MergeFiles(MergeFiles(shared, diffB), diffA)

	if orderAB["/a.txt"] != orderBA["/a.txt"] || orderAB["/b.txt"] != orderBA["/b.txt"] {
		t.Fatalf("merge order affected result: %v vs %v", orderAB, orderBA)
	}
}

func TestDiffFiles_ReferenceStabilityWhenUntouched(t *testing.T) {
	data := &FileData{Content: []string{"unchanged"}}
	pre := Files{"/x.txt": data}
	post := Files{"/x.txt": data} // same pointer: turn performed no mutation

	diff := DiffFiles(pre, post)
	if len(diff) != 0 {
		t.Fatalf("expected zero-size diff for untouched file, got %v", diff)
	}
}

func TestDiffFiles_ContentEqualityWouldClobber(t *testing.T) {
	// Two distinct *FileData with identical content must still be
	// detected as a change — content equality is not the diffing
	// criterion, reference identity is.
	pre := Files{"/x.txt": {Content: []string{"same"}}}
	post := Files{"/x.txt": {Content: []string{"same"}}}

	diff := DiffFiles(pre, post)
	if _, ok := diff["/x.txt"]; !ok {
		t.Fatalf("expected distinct pointer with equal content to be flagged changed")
	}
}
