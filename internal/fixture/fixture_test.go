package fixture

import "testing"

// TestScenariosDrawSecondInputSet checks that every scenario carries an
// input set beyond the export-time one, with shapes matching the traced
// graph and values independently drawn.
func TestScenariosDrawSecondInputSet(t *testing.T) {
	for _, sc := range Scenarios(11) {
		if len(sc.InputSets) < 2 {
			t.Fatalf("%s: %d input set(s), want at least 2", sc.Name, len(sc.InputSets))
		}
		first, second := sc.InputSets[0], sc.InputSets[1]
		if len(first) != len(second) {
			t.Fatalf("%s: input arity differs between sets", sc.Name)
		}
		differs := false
		for j := range first {
			if !first[j].Shape().Equal(second[j].Shape()) {
				t.Fatalf("%s input %d: shape %v vs %v across sets",
					sc.Name, j, first[j].Shape(), second[j].Shape())
			}
			a, b := first[j].Data(), second[j].Data()
			for i := range a {
				if a[i] != b[i] {
					differs = true
					break
				}
			}
		}
		if !differs {
			t.Fatalf("%s: second input set is identical to the first", sc.Name)
		}
	}
}

func TestNMSScenarioUsesFiveBoxes(t *testing.T) {
	sc := NMS(11)
	shape := sc.InputSets[0][0].Shape()
	if len(shape) != 2 || shape[0] != 5 || shape[1] != 4 {
		t.Fatalf("boxes shape = %v, want [5 4]", shape)
	}
}

func TestRCNNScenarioAnchorSizesDouble(t *testing.T) {
	sc := RCNN(11)
	if sc.Name != "rcnn" || len(sc.InputSets) < 2 {
		t.Fatalf("unexpected scenario %q with %d sets", sc.Name, len(sc.InputSets))
	}
	if !sc.Tolerated {
		t.Fatal("end-to-end detector must run tolerated")
	}
}

func TestMismatchBudget(t *testing.T) {
	strict := Scenario{}
	if got := strict.MismatchBudget(0.005); got != 0 {
		t.Fatalf("strict budget = %v, want 0", got)
	}
	tol := Scenario{Tolerated: true}
	if got := tol.MismatchBudget(0.005); got != 0.005 {
		t.Fatalf("tolerated budget = %v, want 0.005", got)
	}
}
