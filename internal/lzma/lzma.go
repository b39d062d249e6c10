// Copyright (c) 2025 Niema Moshiri and The Zaparoo Project.
// SPDX-License-Identifier: GPL-3.0-or-later
//
// This file is part of go-gameid.
//
// go-gameid is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// go-gameid is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with go-gameid.  If not, see <https://www.gnu.org/licenses/>.

// Package lzma implements the LZMA decoder: dictionary, literal/match/rep
// states and the dummy-free safety model described for this reader (see
// package rangecoder's doc comment for why no speculative dummy-decode pass
// is needed here).
package lzma

import (
	"errors"

	"github.com/ZaparooProject/go-sevenzip/internal/rangecoder"
)

const (
	numPosBitsMax    = 4
	numPosStatesMax  = 1 << numPosBitsMax
	lenNumLowBits    = 3
	lenNumLowSymbols = 1 << lenNumLowBits
	lenNumMidBits    = 3
	lenNumMidSymbols = 1 << lenNumMidBits
	lenNumHighBits   = 8
	lenNumHighSyms   = 1 << lenNumHighBits
	numLenProbs      = 2 + numPosStatesMax<<lenNumLowBits + numPosStatesMax<<lenNumMidBits + lenNumHighSyms

	// NumStates is the size of the LZMA state machine.
	NumStates    = 12
	numLitStates = 7

	startPosModelIndex = 4
	endPosModelIndex   = 14
	numFullDistances   = 1 << (endPosModelIndex >> 1)

	numPosSlotBits    = 6
	numLenToPosStates = 4

	numAlignBits   = 4
	alignTableSize = 1 << numAlignBits

	// MatchMinLen is the shortest length a match/rep symbol can encode.
	MatchMinLen = 2
	// MatchSpecLenStart marks the decoded length value reserved for the
	// end-of-stream marker.
	MatchSpecLenStart = MatchMinLen + lenNumLowSymbols + lenNumMidSymbols + lenNumHighSyms

	// DicSizeMin is the minimum dictionary size a properties byte may imply.
	DicSizeMin = 1 << 12

	lenChoice  = 0
	lenChoice2 = lenChoice + 1
	lenLow     = lenChoice2 + 1
	lenMid     = lenLow + numPosStatesMax<<lenNumLowBits
	lenHigh    = lenMid + numPosStatesMax<<lenNumMidBits

	offIsMatch    = 0
	offIsRep      = offIsMatch + NumStates<<numPosBitsMax
	offIsRepG0    = offIsRep + NumStates
	offIsRepG1    = offIsRepG0 + NumStates
	offIsRepG2    = offIsRepG1 + NumStates
	offIsRep0Long = offIsRepG2 + NumStates
	offPosSlot    = offIsRep0Long + NumStates<<numPosBitsMax
	offSpecPos    = offPosSlot + numLenToPosStates<<numPosSlotBits
	offAlign      = offSpecPos + numFullDistances - endPosModelIndex
	offLenCoder   = offAlign + alignTableSize
	offRepLenCoder = offLenCoder + numLenProbs
	offLiteral    = offRepLenCoder + numLenProbs

	// BaseNumProbs is the probability-table size excluding the Literal
	// section (matches the reference LZMA_BASE_SIZE of 1846).
	BaseNumProbs = offLiteral
	// LitSize is the per-context literal sub-table size.
	LitSize = 768
)

// ErrUnsupportedProps is returned when a properties byte is outside the
// range this decoder accepts.
var ErrUnsupportedProps = errors.New("lzma: unsupported properties byte")

// ErrDataError indicates the compressed stream violates the LZMA grammar
// (bad distance, truncated match, bad end marker).
var ErrDataError = errors.New("lzma: data error")

// Props holds the three decoded LZMA properties plus dictionary size.
type Props struct {
	LC, LP, PB byte
	DicSize    uint32
}

// DecodeProps splits a packed properties byte d = (pb*5+lp)*9+lc into its
// three fields, rejecting values that imply pb>4 (i.e. d>=225).
func DecodeProps(d byte) (lc, lp, pb byte, err error) {
	if d >= 9*5*5 {
		return 0, 0, 0, ErrUnsupportedProps
	}
	lc = d % 9
	d /= 9
	pb = d / 5
	lp = d % 5
	return lc, lp, pb, nil
}

// NormalizeDicSize applies the reference decoder's minimum dictionary size.
func NormalizeDicSize(dicSize uint32) uint32 {
	if dicSize < DicSizeMin {
		return DicSizeMin
	}
	return dicSize
}

// Decoder is a stateful LZMA decoder that writes directly into a
// caller-owned output buffer (the folder's unpack buffer). Because that
// buffer always holds the entire decoded stream (§3/§5), the "dictionary"
// is simply the already-written prefix of out and distances never need to
// wrap around a smaller ring buffer.
type Decoder struct {
	out    []byte
	outPos int

	rc *rangecoder.Decoder

	probs []rangecoder.Prob
	state uint32
	reps  [4]uint32

	lc, lp, pb uint32
	dicSize    uint32

	processedPos uint32
	checkDicSize uint32

	// remainLen carries a match copy that did not fully fit before the
	// requested limit was reached, so it can be finished on the next call
	// to DecodeToPos (this happens across LZMA2 chunk boundaries when a
	// match is not reset and straddles two chunks).
	remainLen uint32
}

// NewDecoder allocates a decoder writing into out, with the given
// properties. out is shared with the folder buffer and never reallocated.
func NewDecoder(out []byte, props Props) *Decoder {
	d := &Decoder{
		out:     out,
		lc:      uint32(props.LC),
		lp:      uint32(props.LP),
		pb:      uint32(props.PB),
		dicSize: props.DicSize,
	}
	d.probs = rangecoder.NewProbs(BaseNumProbs + LitSize<<(d.lc+d.lp))
	d.ResetState()
	return d
}

// ResetState reinitialises probabilities, rep distances and the state
// machine, leaving dictionary position/processedPos untouched.
func (d *Decoder) ResetState() {
	rangecoder.ResetProbs(d.probs)
	d.reps[0], d.reps[1], d.reps[2], d.reps[3] = 1, 1, 1, 1
	d.state = 0
	d.remainLen = 0
}

// ResetDic resets the logical dictionary: subsequent distance checks treat
// everything before the current output position as unavailable history.
func (d *Decoder) ResetDic() {
	d.processedPos = 0
	d.checkDicSize = 0
}

// OutPos returns the current write position in the output buffer.
func (d *Decoder) OutPos() int { return d.outPos }

// SetOutPos forces the output cursor, used by LZMA2 framing when chunks are
// stored uncompressed and advance the position without invoking the range
// decoder.
func (d *Decoder) SetOutPos(pos int) {
	delta := uint32(pos - d.outPos) //nolint:gosec // archive sizes fit uint32 per format
	d.outPos = pos
	d.processedPos += delta
	if d.checkDicSize == 0 && d.processedPos >= d.dicSize {
		d.checkDicSize = d.dicSize
	}
}

// InitRangeCoder starts a fresh range-coding session over buf (one LZMA2
// chunk, or the whole stream for raw LZMA).
func (d *Decoder) InitRangeCoder(buf []byte) error {
	rc := &rangecoder.Decoder{}
	if err := rc.Init(buf); err != nil {
		return err
	}
	d.rc = rc
	return nil
}

// ConsumedInput returns how many bytes of the current range-coding session
// have been read.
func (d *Decoder) ConsumedInput() int {
	if d.rc == nil {
		return 0
	}
	return d.rc.Pos()
}

func (d *Decoder) litProbsBase() int {
	base := offLiteral
	if d.checkDicSize != 0 || d.processedPos != 0 {
		prevByte := d.out[d.outPos-1]
		lpMask := uint32(1)<<d.lp - 1
		base += int(LitSize * (((d.processedPos & lpMask) << d.lc) + uint32(prevByte)>>(8-d.lc)))
	}
	return base
}

func (d *Decoder) decodeLiteral() error {
	base := d.litProbsBase()
	var symbol uint32 = 1
	if d.state < numLitStates {
		for symbol < 0x100 {
			bit, err := d.rc.DecodeBit(&d.probs[base+int(symbol)])
			if err != nil {
				return err
			}
			symbol = symbol<<1 | bit
		}
	} else {
		matchByte := uint32(d.out[d.outPos-int(d.reps[0])])
		offs := uint32(0x100)
		for symbol < 0x100 {
			matchByte <<= 1
			bit := matchByte & offs
			probLit := base + int(offs+bit+symbol)
			b, err := d.rc.DecodeBit(&d.probs[probLit])
			if err != nil {
				return err
			}
			symbol = symbol<<1 | b
			if b != 0 {
				offs &= bit
			} else {
				offs &= ^bit
			}
		}
	}
	d.out[d.outPos] = byte(symbol)
	d.outPos++
	d.processedPos++
	return nil
}

func (d *Decoder) decodeLen(base int, posState uint32) (uint32, error) {
	probChoice := base + lenChoice
	bit, err := d.rc.DecodeBit(&d.probs[probChoice])
	if err != nil {
		return 0, err
	}
	if bit == 0 {
		off := base + lenLow + int(posState<<lenNumLowBits)
		v, err := rangecoder.BitTreeDecode(d.rc, d.probs[off:], lenNumLowBits)
		return v, err
	}
	bit, err = d.rc.DecodeBit(&d.probs[base+lenChoice2])
	if err != nil {
		return 0, err
	}
	if bit == 0 {
		off := base + lenMid + int(posState<<lenNumMidBits)
		v, err := rangecoder.BitTreeDecode(d.rc, d.probs[off:], lenNumMidBits)
		return lenNumLowSymbols + v, err
	}
	off := base + lenHigh
	v, err := rangecoder.BitTreeDecode(d.rc, d.probs[off:], lenNumHighBits)
	return lenNumLowSymbols + lenNumMidSymbols + v, err
}

// decodeDistance decodes a new match distance given the length-derived
// posSlot context. Returns 0xFFFFFFFF for the end-of-stream marker.
func (d *Decoder) decodeDistance(length uint32) (uint32, error) {
	lenState := length
	if lenState > numLenToPosStates-1 {
		lenState = numLenToPosStates - 1
	}
	posSlotBase := offPosSlot + int(lenState)<<numPosSlotBits
	posSlot, err := rangecoder.BitTreeDecode(d.rc, d.probs[posSlotBase:], numPosSlotBits)
	if err != nil {
		return 0, err
	}
	if posSlot < startPosModelIndex {
		return posSlot, nil
	}
	numDirectBits := int(posSlot>>1) - 1
	distance := (2 | (posSlot & 1)) << uint(numDirectBits)
	if posSlot < endPosModelIndex {
		off := offSpecPos + int(distance) - int(posSlot) - 1
		v, err := rangecoder.BitTreeReverseDecode(d.rc, d.probs, off, numDirectBits)
		if err != nil {
			return 0, err
		}
		distance += v
		return distance, nil
	}
	v, err := d.rc.DecodeDirectBits(numDirectBits - numAlignBits)
	if err != nil {
		return 0, err
	}
	distance += v << numAlignBits
	align, err := rangecoder.BitTreeReverseDecode(d.rc, d.probs, offAlign, numAlignBits)
	if err != nil {
		return 0, err
	}
	distance += align
	return distance, nil
}

// writeRem flushes a match copy left over from a previous call that was
// truncated by limit.
func (d *Decoder) writeRem(limit int) {
	if d.remainLen == 0 || d.remainLen >= MatchSpecLenStart {
		return
	}
	length := d.remainLen
	if uint32(limit-d.outPos) < length { //nolint:gosec // limit/outPos bounded by archive sizes
		length = uint32(limit - d.outPos)
	}
	if d.checkDicSize == 0 && d.dicSize-d.processedPos <= length {
		d.checkDicSize = d.dicSize
	}
	d.processedPos += length
	d.remainLen -= length
	rep0 := int(d.reps[0])
	for ; length != 0; length-- {
		d.out[d.outPos] = d.out[d.outPos-rep0]
		d.outPos++
	}
}

// DecodeToPos decodes symbols until the output cursor reaches limit or the
// end-of-stream marker is consumed. marker reports whether the marker was
// seen.
func (d *Decoder) DecodeToPos(limit int) (marker bool, err error) {
	d.writeRem(limit)
	pbMask := uint32(1)<<d.pb - 1

	for d.outPos < limit {
		posState := d.processedPos & pbMask
		idx := offIsMatch + int(d.state<<numPosBitsMax) + int(posState)
		bit, err := d.rc.DecodeBit(&d.probs[idx])
		if err != nil {
			return false, err
		}
		if bit == 0 {
			if err := d.decodeLiteral(); err != nil {
				return false, err
			}
			if d.state < 4 {
				d.state = 0
			} else if d.state < 10 {
				d.state -= 3
			} else {
				d.state -= 6
			}
			continue
		}

		var length uint32
		isNewMatch := false
		bit, err = d.rc.DecodeBit(&d.probs[offIsRep+int(d.state)])
		if err != nil {
			return false, err
		}
		if bit == 0 {
			isNewMatch = true
			length, err = d.decodeLen(offLenCoder, posState)
			if err != nil {
				return false, err
			}
		} else {
			if d.checkDicSize == 0 && d.processedPos == 0 {
				return false, ErrDataError
			}
			bit, err = d.rc.DecodeBit(&d.probs[offIsRepG0+int(d.state)])
			if err != nil {
				return false, err
			}
			if bit == 0 {
				idx := offIsRep0Long + int(d.state<<numPosBitsMax) + int(posState)
				shortRep, err := d.rc.DecodeBit(&d.probs[idx])
				if err != nil {
					return false, err
				}
				if shortRep == 0 {
					d.out[d.outPos] = d.out[d.outPos-int(d.reps[0])]
					d.outPos++
					d.processedPos++
					if d.state < numLitStates {
						d.state = 9
					} else {
						d.state = 11
					}
					continue
				}
			} else {
				var distance uint32
				bit, err = d.rc.DecodeBit(&d.probs[offIsRepG1+int(d.state)])
				if err != nil {
					return false, err
				}
				if bit == 0 {
					distance = d.reps[1]
				} else {
					bit, err = d.rc.DecodeBit(&d.probs[offIsRepG2+int(d.state)])
					if err != nil {
						return false, err
					}
					if bit == 0 {
						distance = d.reps[2]
					} else {
						distance = d.reps[3]
						d.reps[3] = d.reps[2]
					}
					d.reps[2] = d.reps[1]
				}
				d.reps[1] = d.reps[0]
				d.reps[0] = distance
			}
			if d.state < numLitStates {
				d.state = 8
			} else {
				d.state = 11
			}
			length, err = d.decodeLen(offRepLenCoder, posState)
			if err != nil {
				return false, err
			}
		}

		if isNewMatch {
			distance, err := d.decodeDistance(length)
			if err != nil {
				return false, err
			}
			if distance == 0xFFFFFFFF {
				return true, nil
			}
			if d.checkDicSize == 0 {
				if distance >= d.processedPos {
					return false, ErrDataError
				}
			} else if distance >= d.checkDicSize {
				return false, ErrDataError
			}
			d.reps[3] = d.reps[2]
			d.reps[2] = d.reps[1]
			d.reps[1] = d.reps[0]
			d.reps[0] = distance + 1
			if d.state < numLitStates {
				d.state = numLitStates
			} else {
				d.state = numLitStates + 3
			}
		}

		length += MatchMinLen
		if limit == d.outPos {
			return false, ErrDataError
		}
		curLen := length
		if rem := uint32(limit - d.outPos); rem < curLen { //nolint:gosec // bounded by archive sizes
			curLen = rem
		}
		d.processedPos += curLen
		d.remainLen = length - curLen
		rep0 := int(d.reps[0])
		for i := uint32(0); i < curLen; i++ {
			d.out[d.outPos] = d.out[d.outPos-rep0]
			d.outPos++
		}
		if d.checkDicSize == 0 && d.processedPos >= d.dicSize {
			d.checkDicSize = d.dicSize
		}
	}
	return false, nil
}
