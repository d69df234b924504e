/*Package bampair maps genomic coordinates to the partitions that own them.

  Records are processed one partition at a time, so when a record's mate
  or primary alignment lives elsewhere, the caller needs to know which
  partition will see the counterpart, and whether any partition will see
  it at all (the counterpart may fall into an excluded region). A
  PartitionIndex answers both questions with an ordered lookup over the
  partition start coordinates.
*/
package bampair
