package keyboard

// KeyCode identifies a physical key.
type KeyCode uint8

// Keys that do not produce a printable character.
const (
	KeyNone KeyCode = iota
	KeyEscape
	KeyBackspace
	KeyTab
	KeyEnter
	KeyLeftCtrl
	KeyRightCtrl
	KeyLeftShift
	KeyRightShift
	KeyLeftAlt
	KeyRightAlt
	KeyCapsLock
	KeyF1
	KeyF2
	KeyF3
	KeyF4
	KeyF5
	KeyF6
	KeyF7
	KeyF8
	KeyF9
	KeyF10
	KeyF11
	KeyF12
	KeyArrowUp
	KeyArrowDown
	KeyArrowLeft
	KeyArrowRight
	KeyPrintable
)

var keyNames = [...]string{
	KeyNone:       "None",
	KeyEscape:     "Escape",
	KeyBackspace:  "Backspace",
	KeyTab:        "Tab",
	KeyEnter:      "Enter",
	KeyLeftCtrl:   "LControl",
	KeyRightCtrl:  "RControl",
	KeyLeftShift:  "LShift",
	KeyRightShift: "RShift",
	KeyLeftAlt:    "LAlt",
	KeyRightAlt:   "RAltGr",
	KeyCapsLock:   "CapsLock",
	KeyF1:         "F1",
	KeyF2:         "F2",
	KeyF3:         "F3",
	KeyF4:         "F4",
	KeyF5:         "F5",
	KeyF6:         "F6",
	KeyF7:         "F7",
	KeyF8:         "F8",
	KeyF9:         "F9",
	KeyF10:        "F10",
	KeyF11:        "F11",
	KeyF12:        "F12",
	KeyArrowUp:    "ArrowUp",
	KeyArrowDown:  "ArrowDown",
	KeyArrowLeft:  "ArrowLeft",
	KeyArrowRight: "ArrowRight",
	KeyPrintable:  "Printable",
}

// String returns the name of the key.
func (k KeyCode) String() string {
	if int(k) < len(keyNames) {
		return keyNames[k]
	}
	return "Unknown"
}

// Key is a decoded key press. Char is non-zero for keys that produce a
// character (including '\n', '\t' and '\b'); otherwise Code identifies the
// key.
type Key struct {
	Char byte
	Code KeyCode
}

const (
	scancodeExtended = 0xe0
	scancodeBreak    = 0x80
)

// set1 maps scancode set 1 make codes to unshifted characters. Entries with
// a zero character are looked up in set1Keys.
var set1 = [0x59]byte{
	0x02: '1', 0x03: '2', 0x04: '3', 0x05: '4', 0x06: '5',
	0x07: '6', 0x08: '7', 0x09: '8', 0x0a: '9', 0x0b: '0',
	0x0c: '-', 0x0d: '=', 0x0e: '\b', 0x0f: '\t',
	0x10: 'q', 0x11: 'w', 0x12: 'e', 0x13: 'r', 0x14: 't',
	0x15: 'y', 0x16: 'u', 0x17: 'i', 0x18: 'o', 0x19: 'p',
	0x1a: '[', 0x1b: ']', 0x1c: '\n',
	0x1e: 'a', 0x1f: 's', 0x20: 'd', 0x21: 'f', 0x22: 'g',
	0x23: 'h', 0x24: 'j', 0x25: 'k', 0x26: 'l',
	0x27: ';', 0x28: '\'', 0x29: '`', 0x2b: '\\',
	0x2c: 'z', 0x2d: 'x', 0x2e: 'c', 0x2f: 'v', 0x30: 'b',
	0x31: 'n', 0x32: 'm', 0x33: ',', 0x34: '.', 0x35: '/',
	0x37: '*', 0x39: ' ',
}

// set1Shifted holds the characters produced by non-letter keys while shift
// is held.
var set1Shifted = [0x59]byte{
	0x02: '!', 0x03: '@', 0x04: '#', 0x05: '$', 0x06: '%',
	0x07: '^', 0x08: '&', 0x09: '*', 0x0a: '(', 0x0b: ')',
	0x0c: '_', 0x0d: '+',
	0x1a: '{', 0x1b: '}',
	0x27: ':', 0x28: '"', 0x29: '~', 0x2b: '|',
	0x33: '<', 0x34: '>', 0x35: '?',
}

var set1Keys = [0x59]KeyCode{
	0x01: KeyEscape,
	0x1d: KeyLeftCtrl,
	0x2a: KeyLeftShift,
	0x36: KeyRightShift,
	0x38: KeyLeftAlt,
	0x3a: KeyCapsLock,
	0x3b: KeyF1, 0x3c: KeyF2, 0x3d: KeyF3, 0x3e: KeyF4, 0x3f: KeyF5,
	0x40: KeyF6, 0x41: KeyF7, 0x42: KeyF8, 0x43: KeyF9, 0x44: KeyF10,
	0x57: KeyF11, 0x58: KeyF12,
}

var set1ExtendedKeys = [0x59]KeyCode{
	0x1d: KeyRightCtrl,
	0x38: KeyRightAlt,
	0x48: KeyArrowUp,
	0x4b: KeyArrowLeft,
	0x4d: KeyArrowRight,
	0x50: KeyArrowDown,
}

// Decoder turns a stream of scancode set 1 bytes into key presses using the
// US layout. It tracks the shift and caps-lock state.
type Decoder struct {
	extended   bool
	leftShift  bool
	rightShift bool
	capsLock   bool
}

// Decode processes a single scancode byte. It returns true together with the
// decoded key when the byte completes a key press. Key releases, modifier
// keys and prefix bytes return false.
func (d *Decoder) Decode(scancode byte) (Key, bool) {
	if scancode == scancodeExtended {
		d.extended = true
		return Key{}, false
	}

	extended := d.extended
	d.extended = false

	released := scancode&scancodeBreak != 0
	code := scancode &^ scancodeBreak
	if int(code) >= len(set1) {
		return Key{}, false
	}

	if extended {
		key := set1ExtendedKeys[code]
		if released || key == KeyNone || key == KeyRightCtrl || key == KeyRightAlt {
			return Key{}, false
		}
		return Key{Code: key}, true
	}

	switch set1Keys[code] {
	case KeyLeftShift:
		d.leftShift = !released
		return Key{}, false
	case KeyRightShift:
		d.rightShift = !released
		return Key{}, false
	case KeyCapsLock:
		if !released {
			d.capsLock = !d.capsLock
		}
		return Key{}, false
	case KeyLeftCtrl, KeyLeftAlt:
		return Key{}, false
	}

	if released {
		return Key{}, false
	}

	ch := set1[code]
	if ch == 0 {
		if key := set1Keys[code]; key != KeyNone {
			return Key{Code: key}, true
		}
		return Key{}, false
	}

	shift := d.leftShift || d.rightShift
	switch {
	case ch >= 'a' && ch <= 'z':
		if shift != d.capsLock {
			ch -= 'a' - 'A'
		}
	case shift && set1Shifted[code] != 0:
		ch = set1Shifted[code]
	}

	return Key{Char: ch, Code: KeyPrintable}, true
}
