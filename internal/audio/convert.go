package audio

import (
	"fmt"
	"os"
)

// Convert rewrites src into dst using the target format. Channels are mixed
// down (or duplicated up), sample rate is changed by linear interpolation and
// samples are rescaled to the target bit depth. When src already matches, the
// file is moved instead.
func Convert(src Unit, dst string, target Format) (Unit, error) {
	if src.Format == target {
		if err := os.Rename(src.Path, dst); err != nil {
			return Unit{}, fmt.Errorf("move unit: %w", err)
		}
		src.Path = dst
		return src, nil
	}

	buf, format, err := ReadPCM(src.Path)
	if err != nil {
		return Unit{}, err
	}

	mono := mixChannels(buf.Data, format.Channels, target.Channels)
	resampled := resample(mono, target.Channels, format.SampleRate, target.SampleRate)
	scaled := rescale(resampled, format.BitDepth, target.BitDepth)

	unit, err := WriteFile(dst, target, scaled)
	if err != nil {
		return Unit{}, err
	}
	if err := os.Remove(src.Path); err != nil && !os.IsNotExist(err) {
		return unit, fmt.Errorf("remove source unit: %w", err)
	}
	return unit, nil
}

func mixChannels(samples []int, from, to int) []int {
	if from == to {
		return samples
	}
	n := len(samples) / from
	out := make([]int, 0, n*to)
	for i := 0; i < n; i++ {
		frame := samples[i*from : (i+1)*from]
		if to == 1 {
			sum := 0
			for _, s := range frame {
				sum += s
			}
			out = append(out, sum/from)
			continue
		}
		for c := 0; c < to; c++ {
			out = append(out, frame[c%from])
		}
	}
	return out
}

func resample(samples []int, channels, from, to int) []int {
	if from == to || len(samples) == 0 {
		return samples
	}
	inFrames := len(samples) / channels
	outFrames := int(int64(inFrames) * int64(to) / int64(from))
	if outFrames == 0 {
		outFrames = 1
	}
	out := make([]int, outFrames*channels)
	ratio := float64(from) / float64(to)
	for i := 0; i < outFrames; i++ {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := pos - float64(idx)
		next := idx + 1
		if next >= inFrames {
			next = inFrames - 1
		}
		if idx >= inFrames {
			idx = inFrames - 1
		}
		for c := 0; c < channels; c++ {
			a := float64(samples[idx*channels+c])
			b := float64(samples[next*channels+c])
			out[i*channels+c] = int(a + (b-a)*frac)
		}
	}
	return out
}

func rescale(samples []int, from, to int) []int {
	if from == to {
		return samples
	}
	out := make([]int, len(samples))
	shift := to - from
	for i, s := range samples {
		// 8-bit WAV is unsigned; everything wider is signed.
		if from == 8 {
			s -= 128
		}
		if shift > 0 {
			s <<= uint(shift)
		} else {
			s >>= uint(-shift)
		}
		if to == 8 {
			s += 128
		}
		out[i] = s
	}
	return out
}
