//go:build linux

package hotkey

import "testing"

const keyAutorepeat = 2

func chordDown(s *keyState) {
	s.update(keyLCtrl, keyPress)
	s.update(keyLShift, keyPress)
}

func TestComboFiresOnFullChord(t *testing.T) {
	var s keyState
	chordDown(&s)
	if !s.update(keyR, keyPress) {
		t.Fatal("expected toggle on ctrl+shift+r")
	}
}

func TestNoFireWithoutModifiers(t *testing.T) {
	tests := []struct {
		name string
		prep func(*keyState)
	}{
		{"bare r", func(s *keyState) {}},
		{"ctrl only", func(s *keyState) { s.update(keyLCtrl, keyPress) }},
		{"shift only", func(s *keyState) { s.update(keyLShift, keyPress) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var s keyState
			tt.prep(&s)
			if s.update(keyR, keyPress) {
				t.Fatal("combo fired without the full chord")
			}
		})
	}
}

func TestRightSideModifiers(t *testing.T) {
	var s keyState
	s.update(keyRCtrl, keyPress)
	s.update(keyRShift, keyPress)
	if !s.update(keyR, keyPress) {
		t.Fatal("expected right-side modifiers to count")
	}
}

func TestAutorepeatFiresOnce(t *testing.T) {
	var s keyState
	chordDown(&s)
	if !s.update(keyR, keyPress) {
		t.Fatal("expected initial fire")
	}
	for i := 0; i < 5; i++ {
		if s.update(keyR, keyAutorepeat) {
			t.Fatalf("autorepeat %d fired the combo again", i)
		}
	}
}

func TestReleaseRearms(t *testing.T) {
	var s keyState
	chordDown(&s)
	s.update(keyR, keyPress)
	s.update(keyR, keyRelease)
	if !s.update(keyR, keyPress) {
		t.Fatal("expected combo to re-arm after release")
	}
}

func TestModifierReleaseBlocks(t *testing.T) {
	var s keyState
	chordDown(&s)
	s.update(keyLCtrl, keyRelease)
	if s.update(keyR, keyPress) {
		t.Fatal("combo fired after ctrl was released")
	}
}

func TestAutorepeatKeepsModifiersHeld(t *testing.T) {
	var s keyState
	chordDown(&s)
	s.update(keyLCtrl, keyAutorepeat)
	s.update(keyLShift, keyAutorepeat)
	if !s.update(keyR, keyPress) {
		t.Fatal("modifier autorepeat dropped held state")
	}
}
