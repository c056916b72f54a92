/*
Command gxserialdemux shares one serial line between a GDB remote stub and
the console output of the target.

It creates a virtual serial port (a pseudo-terminal) and prints its path.
Point GDB at that path:

	gxserialdemux /dev/ttyUSB0 115200
	(gdb) target remote /dev/pts/5

Remote protocol packets ($...#xx) and acknowledgements (+ and -) read
from the device are forwarded to GDB. Everything else the target prints
is written to standard output. Everything GDB sends goes to the device
unchanged.

Settings can also come from a YAML file given with --config; flags and
positional arguments override the file.
*/
package main
