package runner

import (
	"fmt"
	"os"
	"syscall"
	"time"
)

// timeReport formats the resource usage of a finished process the way GNU
// time does by default:
//
//	0.12user 0.03system 0:00.20elapsed 75%CPU (0avgtext+0avgdata 5120maxresident)k
//	0inputs+8outputs (0major+312minor)pagefaults 0swaps
//
// Elapsed time is always printed as minutes:seconds.
func timeReport(state *os.ProcessState, elapsed time.Duration) string {
	user := state.UserTime()
	system := state.SystemTime()

	cpu := 0
	if elapsed > 0 {
		cpu = int(100 * (user + system) / elapsed)
	}

	var maxrss, inblock, oublock, majflt, minflt, nswap int64
	if ru, ok := state.SysUsage().(*syscall.Rusage); ok && ru != nil {
		maxrss = int64(ru.Maxrss)
		inblock = int64(ru.Inblock)
		oublock = int64(ru.Oublock)
		majflt = int64(ru.Majflt)
		minflt = int64(ru.Minflt)
		nswap = int64(ru.Nswap)
	}

	return fmt.Sprintf("%.2fuser %.2fsystem %selapsed %d%%CPU (0avgtext+0avgdata %dmaxresident)k\n%dinputs+%doutputs (%dmajor+%dminor)pagefaults %dswaps\n",
		user.Seconds(), system.Seconds(), formatElapsed(elapsed), cpu,
		maxrss, inblock, oublock, majflt, minflt, nswap,
	)
}

func formatElapsed(d time.Duration) string {
	centis := d.Round(10*time.Millisecond).Milliseconds() / 10
	minutes := centis / 6000
	centis -= minutes * 6000
	return fmt.Sprintf("%d:%02d.%02d", minutes, centis/100, centis%100)
}
