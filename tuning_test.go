package nmalloc

import "testing"

func TestParseTuningSetsAllThreeFlags(t *testing.T) {
	tu := ParseTuning("UZH")
	if !tu.Trace || !tu.ZeroFill || !tu.AdviseDontNeed {
		t.Fatalf("got %+v, want all three flags set", tu)
	}
}

func TestParseTuningLowercaseClears(t *testing.T) {
	tu := ParseTuning("UZHuzh")
	if tu.Trace || tu.ZeroFill || tu.AdviseDontNeed {
		t.Fatalf("got %+v, want all flags cleared by the trailing lowercase letters", tu)
	}
}

func TestParseTuningIgnoresUnknownLetters(t *testing.T) {
	tu := ParseTuning("UXQZ")
	if !tu.Trace || !tu.ZeroFill {
		t.Fatalf("got %+v, want U and Z honored despite the unknown X and Q letters", tu)
	}
}

func TestParseTuningDefaultsAllFalse(t *testing.T) {
	tu := ParseTuning("")
	if tu.Trace || tu.ZeroFill || tu.AdviseDontNeed {
		t.Fatalf("got %+v, want every flag false by default", tu)
	}
}
