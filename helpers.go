package agora

import "time"

// NowFunc is the clock used for every timestamp the engine writes. Tests swap it.
var NowFunc func() time.Time = time.Now
