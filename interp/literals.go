package interp

import "mvm/value"

// smallLiterals is the 12-entry table LOAD_SMALL_LITERAL's 4-bit immediate
// indexes into: the handful of constants common enough in real scripts to
// deserve a one-byte encoding.
var smallLiterals = [12]value.Value{
	value.Deleted,
	value.Undefined,
	value.Null,
	value.False,
	value.True,
	value.Int14(-1),
	value.Int14(0),
	value.Int14(1),
	value.Int14(2),
	value.Int14(3),
	value.Int14(4),
	value.Int14(5),
}

func init() {
	if smallLiteralCount != len(smallLiterals) {
		panic("interp: smallLiteralCount out of sync with smallLiterals")
	}
}
