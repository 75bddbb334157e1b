package classifier

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
)

// Class is one of the diagnostic categories the model distinguishes.
type Class int

// The enumeration order matches the model's output vector.
const (
	ClassNormal Class = iota
	ClassPneumonia
	ClassHighDensity
	ClassLowDensity
	ClassObstructive
	ClassInfectious
	ClassEncapsulated
	ClassMediastinum
	ClassThorax

	NumClasses = 9
)

var classLabels = [NumClasses]string{
	"00 Anatomia Normal",
	"01 Processos Inflamatórios Pulmonares (Pneumonia)",
	"02 Maior Densidade (Derrame Pleural, Consolidação Atelectasica, Hidrotorax, Empiema)",
	"03 Menor Densidade (Pneumotorax, Pneumomediastino, Pneumoperitonio)",
	"04 Doenças Pulmonares Obstrutivas (Enfisema, Broncopneumonia, Bronquiectasia, Embolia)",
	"05 Doenças Infecciosas Degenerativas (Tuberculose, Sarcoidose, Proteinose, Fibrose)",
	"06 Lesões Encapsuladas (Abscessos, Nódulos, Cistos, Massas Tumorais, Metastases)",
	"07 Alterações de Mediastino (Pericardite, Malformações Arteriovenosas, Linfonodomegalias)",
	"08 Alterações do Tórax (Atelectasias, Malformações, Agenesia, Hipoplasias)",
}

// String returns the label the model was trained with.
func (c Class) String() string {
	if !c.Valid() {
		return "Class(" + strconv.Itoa(int(c)) + ")"
	}
	return classLabels[c]
}

// Valid reports whether c is part of the enumeration.
func (c Class) Valid() bool {
	return c >= 0 && int(c) < NumClasses
}

// Classes returns all classes in enumeration order.
func Classes() []Class {
	out := make([]Class, NumClasses)
	for i := range out {
		out[i] = Class(i)
	}
	return out
}

// Labels returns all labels in enumeration order.
func Labels() []string {
	out := make([]string, NumClasses)
	copy(out, classLabels[:])
	return out
}

// ParseClass resolves a stored label back to its class.
func ParseClass(label string) (Class, error) {
	for i, l := range classLabels {
		if l == label {
			return Class(i), nil
		}
	}
	return 0, fmt.Errorf("unknown class label %q", label)
}

// CheckLabelFile verifies that a label file lists exactly the enumerated
// labels, one per line, in order. Blank lines are ignored.
func CheckLabelFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read label file: %w", err)
	}

	var labels []string
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			labels = append(labels, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scan label file: %w", err)
	}

	if len(labels) != NumClasses {
		return fmt.Errorf("label file %s has %d labels, expected %d", path, len(labels), NumClasses)
	}
	for i, l := range labels {
		if l != classLabels[i] {
			return fmt.Errorf("label %d is %q, expected %q", i, l, classLabels[i])
		}
	}
	return nil
}

// Distribution holds one probability per class, indexed by Class.
type Distribution [NumClasses]float64

// ArgMax returns the class with the highest probability. Ties resolve to the
// class that comes first in the enumeration.
func (d Distribution) ArgMax() (Class, float64) {
	best := Class(0)
	for i := 1; i < NumClasses; i++ {
		if d[i] > d[best] {
			best = Class(i)
		}
	}
	return best, d[best]
}

// Sum returns the total probability mass.
func (d Distribution) Sum() float64 {
	var s float64
	for _, p := range d {
		s += p
	}
	return s
}

// MarshalJSON writes the distribution as an object keyed by label, in
// enumeration order.
func (d Distribution) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, p := range d {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(classLabels[i])
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		if math.IsNaN(p) || math.IsInf(p, 0) {
			return nil, fmt.Errorf("probability for %q is not finite", classLabels[i])
		}
		buf.WriteString(strconv.FormatFloat(p, 'g', -1, 64))
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads an object keyed by label. Every label must be present.
func (d *Distribution) UnmarshalJSON(data []byte) error {
	var raw map[string]float64
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	var out Distribution
	for label, p := range raw {
		c, err := ParseClass(label)
		if err != nil {
			return err
		}
		out[c] = p
	}
	if len(raw) != NumClasses {
		return errors.New("distribution must contain every class")
	}
	*d = out
	return nil
}

// fromScores builds a distribution from raw model output. Output that is not
// already a probability vector is passed through a softmax.
func fromScores(scores []float32) (Distribution, error) {
	var d Distribution
	if len(scores) != NumClasses {
		return d, fmt.Errorf("model returned %d scores, expected %d", len(scores), NumClasses)
	}

	isProb := true
	var sum float64
	for i, s := range scores {
		v := float64(s)
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return d, fmt.Errorf("model returned non-finite score at index %d", i)
		}
		if v < 0 || v > 1 {
			isProb = false
		}
		d[i] = v
		sum += v
	}
	if isProb && math.Abs(sum-1) <= 1e-3 {
		return d, nil
	}
	return softmax(d), nil
}

func softmax(d Distribution) Distribution {
	maxV := d[0]
	for _, v := range d[1:] {
		if v > maxV {
			maxV = v
		}
	}
	var sum float64
	var out Distribution
	for i, v := range d {
		out[i] = math.Exp(v - maxV)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}
